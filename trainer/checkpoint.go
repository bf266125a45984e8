package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/gobaselines/ppotrain/types"
	"github.com/gobaselines/ppotrain/util"
)

// Record is the single atomic snapshot that makes training resumable:
// policy parameters, optimizer state, the full training state and the
// configuration the run was started with.
type Record struct {
	PolicyState []byte         `json:"policy_state"`
	OptimState  []byte         `json:"optim_state"`
	State       *TrainingState `json:"state"`
	Config      *types.Config  `json:"config"`
}

// CheckpointManager owns the checkpoint folder layout: one file per
// checkpoint index, a "latest" alias, and the resume-state file whose
// presence doubles as the requeue record.
type CheckpointManager struct {
	folder string
}

func NewCheckpointManager(folder string) *CheckpointManager {
	return &CheckpointManager{folder: folder}
}

func (m *CheckpointManager) checkpointPath(index int) string {
	return path.Join(m.folder, fmt.Sprintf("ckpt.%d.json", index))
}

func (m *CheckpointManager) latestPath() string {
	return path.Join(m.folder, "latest.json")
}

func (m *CheckpointManager) resumePath() string {
	return path.Join(m.folder, "resume_state.json")
}

// SaveCheckpoint atomically writes the indexed checkpoint and promotes it
// to the "latest" alias.
func (m *CheckpointManager) SaveCheckpoint(rec *Record, index int) error {
	bs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding checkpoint %d: %w", index, err)
	}
	if err := util.AtomicWriteFile(m.checkpointPath(index), bs); err != nil {
		return fmt.Errorf("writing checkpoint %d: %w", index, err)
	}
	if err := util.AtomicWriteFile(m.latestPath(), bs); err != nil {
		return fmt.Errorf("promoting checkpoint %d: %w", index, err)
	}
	return nil
}

// SaveResumeState atomically writes the preemption snapshot. Its presence
// is what makes the next startup resume instead of starting fresh.
func (m *CheckpointManager) SaveResumeState(rec *Record) error {
	bs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding resume state: %w", err)
	}
	if err := util.AtomicWriteFile(m.resumePath(), bs); err != nil {
		return fmt.Errorf("writing resume state: %w", err)
	}
	return nil
}

// LoadResumeState returns the resume snapshot, or nil when no preemption
// record exists and training should start fresh. A present but unreadable
// record is fatal: a requested resume never silently falls back to a fresh
// run.
func (m *CheckpointManager) LoadResumeState() (*Record, error) {
	bs, err := os.ReadFile(m.resumePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading resume state: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(bs, &rec); err != nil {
		return nil, fmt.Errorf("corrupt resume state at %s: %w", m.resumePath(), err)
	}
	return &rec, nil
}

// LoadCheckpoint reads the checkpoint at the given path, defaulting to the
// "latest" alias.
func (m *CheckpointManager) LoadCheckpoint(p string) (*Record, error) {
	if p == "" {
		p = m.latestPath()
	}
	bs, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", p, err)
	}
	var rec Record
	if err := json.Unmarshal(bs, &rec); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint at %s: %w", p, err)
	}
	return &rec, nil
}
