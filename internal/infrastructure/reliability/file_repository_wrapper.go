// Package reliability wraps external stores with retry and circuit breaker
// behavior so transient store failures never stall the editing path.
package reliability

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
	"codecollab/pkg/circuitbreaker"
	"codecollab/pkg/retry"
)

// FileRepositoryWrapper wraps a FileRepository with retry logic and a circuit
// breaker. Not-found results are terminal and bypass both.
type FileRepositoryWrapper struct {
	repo   ports.FileRepository
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewFileRepositoryWrapper(
	repo ports.FileRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *FileRepositoryWrapper {
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors, domain.ErrFileNotFound)

	wrapper := &FileRepositoryWrapper{
		repo:           repo,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("file store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

var _ ports.FileRepository = (*FileRepositoryWrapper)(nil)

func (w *FileRepositoryWrapper) Load(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) (*domain.File, error) {
	if !w.retryConfig.Enabled {
		return w.repo.Load(ctx, roomID, fileID)
	}

	result, err := retry.RetryWithResult(ctx, w.retryConfig, func() (*domain.File, error) {
		res, err := w.circuitBreaker.ExecuteWithResult(ctx, func() (interface{}, error) {
			return w.repo.Load(ctx, roomID, fileID)
		})
		if err != nil {
			return nil, err
		}
		return res.(*domain.File), nil
	})
	if err != nil && errors.Is(err, domain.ErrFileNotFound) {
		return nil, domain.ErrFileNotFound
	}
	return result, err
}

func (w *FileRepositoryWrapper) Save(ctx context.Context, file *domain.File) error {
	if !w.retryConfig.Enabled {
		return w.repo.Save(ctx, file)
	}

	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.repo.Save(ctx, file)
		})
	})
}

func (w *FileRepositoryWrapper) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.File, error) {
	if !w.retryConfig.Enabled {
		return w.repo.ListByRoom(ctx, roomID)
	}

	return retry.RetryWithResult(ctx, w.retryConfig, func() ([]*domain.File, error) {
		res, err := w.circuitBreaker.ExecuteWithResult(ctx, func() (interface{}, error) {
			return w.repo.ListByRoom(ctx, roomID)
		})
		if err != nil {
			return nil, err
		}
		return res.([]*domain.File), nil
	})
}

func (w *FileRepositoryWrapper) Delete(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) error {
	if !w.retryConfig.Enabled {
		return w.repo.Delete(ctx, roomID, fileID)
	}

	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.repo.Delete(ctx, roomID, fileID)
		})
	})
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *FileRepositoryWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
