package config

type WorkerKeyStruct struct {
	PersistProgressQueue string
	// ProgressDeadLetterQueue keeps updates that kept failing, for manual replay.
	ProgressDeadLetterQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProgressQueue:    "persist_progress_queue",
	ProgressDeadLetterQueue: "persist_progress_dead",
}
