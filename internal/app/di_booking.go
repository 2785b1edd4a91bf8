package app

import (
	"fmt"

	bookingRepository "github.com/tidywork/tidywork/internal/booking/repository"
)

// BookingRepository returns the booking repository based on database driver.
func (c *Container) BookingRepository() (*bookingRepository.PostgreSQLBookingRepository, error) {
	var err error
	c.bookingRepoInit.Do(func() {
		c.bookingRepo, err = c.initBookingRepository()
		if err != nil {
			c.initErrors["bookingRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["bookingRepo"]; exists {
		return nil, storedErr
	}
	return c.bookingRepo, nil
}

// initBookingRepository creates the booking repository instance.
func (c *Container) initBookingRepository() (*bookingRepository.PostgreSQLBookingRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for booking repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return bookingRepository.NewPostgreSQLBookingRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}
