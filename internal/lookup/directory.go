// Package lookup answers applicant record queries embedded in chat messages.
package lookup

import (
	"context"
	"errors"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

// DefaultLimit bounds the rows returned for one query.
const DefaultLimit = 6

// ErrUnavailable reports that no lookup backend is reachable or configured.
var ErrUnavailable = errors.New("record lookup unavailable")

// Directory searches applicant records.
type Directory interface {
	Search(ctx context.Context, query string, limit int) ([]models.Record, error)
}

// Unavailable is a Directory used when no backend is configured.
type Unavailable struct{}

// Search always fails with ErrUnavailable.
func (Unavailable) Search(context.Context, string, int) ([]models.Record, error) {
	return nil, ErrUnavailable
}
