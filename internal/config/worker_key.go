package config

type WorkerKeyStruct struct {
	PersistAnswersQueue   string
	SessionCompletedQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue:   "persist_answers_queue",
	SessionCompletedQueue: "session_completed_queue",
}
