package app

import (
	"fmt"

	idempotencyRepository "github.com/tidywork/tidywork/internal/idempotency/repository"
	idempotencyUsecase "github.com/tidywork/tidywork/internal/idempotency/usecase"
)

// IdempotencyRepository returns the idempotency record repository based on database driver.
func (c *Container) IdempotencyRepository() (idempotencyUsecase.IdempotencyRepository, error) {
	var err error
	c.idempotencyRepoInit.Do(func() {
		c.idempotencyRepo, err = c.initIdempotencyRepository()
		if err != nil {
			c.initErrors["idempotencyRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["idempotencyRepo"]; exists {
		return nil, storedErr
	}
	return c.idempotencyRepo, nil
}

// IdempotencyUseCase returns the idempotency use case instance.
func (c *Container) IdempotencyUseCase() (idempotencyUsecase.UseCase, error) {
	var err error
	c.idempotencyUseCaseInit.Do(func() {
		c.idempotencyUseCase, err = c.initIdempotencyUseCase()
		if err != nil {
			c.initErrors["idempotencyUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["idempotencyUseCase"]; exists {
		return nil, storedErr
	}
	return c.idempotencyUseCase, nil
}

// initIdempotencyRepository creates the idempotency record repository instance.
func (c *Container) initIdempotencyRepository() (idempotencyUsecase.IdempotencyRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for idempotency repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return idempotencyRepository.NewPostgreSQLIdempotencyRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initIdempotencyUseCase creates the idempotency use case with all its dependencies.
func (c *Container) initIdempotencyUseCase() (idempotencyUsecase.UseCase, error) {
	repo, err := c.IdempotencyRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency repository for idempotency use case: %w", err)
	}

	return idempotencyUsecase.NewIdempotencyUseCase(repo, c.Logger()), nil
}
