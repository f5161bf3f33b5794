// Package threads owns conversation threads and the ownership check that
// gates every message access path.
package threads
