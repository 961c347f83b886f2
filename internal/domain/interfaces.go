package domain

// OrderJournal records order status transitions. Implementations must not block
// the caller for long; the gateway calls it on the hot path.
type OrderJournal interface {
	Record(ev OrderEvent)
}

// InstrumentRepository persists the instrument registry between runs.
type InstrumentRepository interface {
	SaveInstruments(instruments []Instrument) error
	LoadInstruments() ([]Instrument, error)
}

// FillListener is notified of executions against our orders.
type FillListener interface {
	OnFill(f Fill)
}
