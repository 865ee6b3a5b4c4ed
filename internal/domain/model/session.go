package model

// Session carries per-account display state for the status board and the
// file logger labels. One session lives for the lifetime of a scheduled task.
type Session struct {
	AccIdx       int
	AccountID    string
	AccountName  string
	ProviderName string

	CheckInStatus string
	LastMessage   string
	Quota         float64
	UsedQuota     float64
	LastCheckIn   string
}

func (s *Session) LoggingSession() *Session {
	return s
}
