package config

type WorkerKeyStruct struct {
	PersistViolationsQueue string
	GradeSubmissionsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue: "persist_violations_queue",
	GradeSubmissionsQueue:  "grade_submissions_queue",
}
