package browser

// ProcessReaper force-terminates browser processes still holding handles
// inside a bypass profile directory, so the directory can be deleted even
// after an aborted run.
type ProcessReaper interface {
	KillByProfileDir(profileDir string) error
}

func NewProcessReaper() ProcessReaper {
	return newPlatformReaper()
}
