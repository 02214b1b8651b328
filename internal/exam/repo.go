package exam

import "context"

type Store interface {
	Insert(ctx context.Context, e Exam) error
	Update(ctx context.Context, e Exam) error
	Get(ctx context.Context, id string) (Exam, error)
	GetByCode(ctx context.Context, code string) (Exam, error)
	// CodeTaken reports whether another exam (not excludeID) already uses code.
	CodeTaken(ctx context.Context, code, excludeID string) (bool, error)
	List(ctx context.Context, opts ListOpts) ([]Exam, error)
	// DeleteUnreferenced removes the exam unless a result points at it.
	DeleteUnreferenced(ctx context.Context, id string) error
}
