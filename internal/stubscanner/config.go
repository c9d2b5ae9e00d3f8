package stubscanner

// Config holds configuration for the stub scanner.
type Config struct {
	// Port is the port on which the stub scanner listens.
	Port int

	// SpiderStep is how many percent a crawl advances per status poll.
	SpiderStep int

	// ActiveStep is how many percent an attack scan advances per status poll.
	ActiveStep int

	// AjaxPolls is how many status polls a browser crawl stays "running".
	AjaxPolls int

	// PassiveBacklog is the starting record backlog for the passive queue.
	PassiveBacklog int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		SpiderStep:     20,
		ActiveStep:     10,
		AjaxPolls:      3,
		PassiveBacklog: 6,
	}
}
