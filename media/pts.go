package media

// NoPTS marks a missing presentation or decode timestamp. It is a huge
// negative value so arithmetic accidents land far outside any real
// timeline; test for it with == or HasPTS, never with ordering.
const NoPTS = -0x1p63

// HasPTS reports whether ts holds a real timestamp.
func HasPTS(ts float64) bool { return ts != NoPTS }
