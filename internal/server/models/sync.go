package models

// UserOutcome is one user's entry in a sync report: either a count with
// the archive path (empty when nothing was archived) or an error message.
type UserOutcome struct {
	Count   *int   `json:"count,omitempty"`
	Archive string `json:"archive,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Succeeded(count int, archive string) UserOutcome {
	return UserOutcome{Count: &count, Archive: archive}
}

func Failed(err error) UserOutcome {
	return UserOutcome{Error: err.Error()}
}

// OK reports whether the outcome is a success entry.
func (o UserOutcome) OK() bool {
	return o.Error == ""
}

// SyncResult maps user ids to their outcome for one sync run.
type SyncResult map[string]UserOutcome
