package schedules

// JobKind distinguishes what a schedule key fires.
type JobKind string

const (
	JobKindAgent    JobKind = "agent"
	JobKindWorkflow JobKind = "workflow"
)

// Config holds resource limit configuration carried over from the teacher's
// validation pipeline (§4.E).
type Config struct {
	MaxPerUser          int     // Max schedules per user (default: 50)
	MinCronIntervalMins int     // Min interval between runs in minutes (default: 60)
	MaxBudgetPerRunUSD  float64 // Max budget per execution (default: 10.0)
}

// DefaultConfig returns the teacher's defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxPerUser:          50,
		MinCronIntervalMins: 60,
		MaxBudgetPerRunUSD:  10.0,
	}
}
