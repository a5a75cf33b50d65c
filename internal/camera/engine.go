package camera

import "sync"

// MemoryEngine is a ViewportEngine holding the pose in memory. Used by
// headless hosts (the HTTP server has no real map surface) and by tests.
type MemoryEngine struct {
	mu   sync.Mutex
	pose Pose
}

// NewMemoryEngine creates a MemoryEngine starting at the given pose.
func NewMemoryEngine(initial Pose) *MemoryEngine {
	return &MemoryEngine{pose: initial}
}

func (e *MemoryEngine) Pose() Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

func (e *MemoryEngine) SetPose(p Pose) {
	e.mu.Lock()
	e.pose = p
	e.mu.Unlock()
}
