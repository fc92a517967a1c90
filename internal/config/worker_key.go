package config

type WorkerKeyStruct struct {
	PersistIntegrityEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistIntegrityEventsQueue: "persist_integrity_events_queue",
}
