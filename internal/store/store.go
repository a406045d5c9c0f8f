package store

import (
	"context"
	"errors"

	"github.com/seantiz/xxfunc/internal/model"
)

var (
	// ErrNotFound is returned when a module or execution does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a module name is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is returned when an execution status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ExecutionStats holds aggregate execution statistics.
type ExecutionStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// ModuleStore persists module binaries and their lifecycle state.
type ModuleStore interface {
	InsertModule(ctx context.Context, name string, binary []byte) (int64, error)
	GetModuleBinary(ctx context.Context, id int64) ([]byte, error)
	GetModule(ctx context.Context, id int64) (*model.Module, error)
	GetModuleByName(ctx context.Context, name string) (*model.Module, error)
	ListModules(ctx context.Context, state model.ModuleState) ([]*model.Module, error)
	DeleteModule(ctx context.Context, name string) error
	SetModuleState(ctx context.Context, name string, state model.ModuleState) error
	ListModuleIDsByState(ctx context.Context, state model.ModuleState) ([]int64, error)
}

// ExecutionStore records the history of module executions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error)
	UpdateExecutionStatus(ctx context.Context, id, status string) error
	FinishExecution(ctx context.Context, e *model.Execution) error
	GetExecutionStats(ctx context.Context) (*ExecutionStats, error)
}

// Store defines the persistence operations for modules and executions.
type Store interface {
	ModuleStore
	ExecutionStore
	Close() error
}
