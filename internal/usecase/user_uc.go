package usecase

import (
	"context"
	"errors"
	"fmt"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes the member directory operations the subscription core needs.
type UserUseCase interface {
	// Register creates a user. roleRef is the student id or staff id for those roles.
	Register(ctx context.Context, email, fullName string, role model.Role, roleRef string) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Count(ctx context.Context) (int, error)
}

type userUC struct {
	users repository.UserRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, tm repository.TransactionManager, logger *zerolog.Logger) *userUC {
	l := logger.With().Str("component", "UserUC").Logger()
	return &userUC{
		users: users,
		tm:    tm,
		log:   &l,
	}
}

func (u *userUC) Register(ctx context.Context, email, fullName string, role model.Role, roleRef string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.Register")()

	nu, err := model.NewUser("", email, fullName, role, roleRef)
	if err != nil {
		return nil, err
	}

	// The read (find) and write (save) run as one serializable unit so two
	// registrations for the same email cannot both succeed.
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err = u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		_, err := u.users.FindByEmail(ctx, tx, nu.Email)
		switch {
		case err == nil:
			return fmt.Errorf("email %s: %w", nu.Email, domain.ErrAlreadyExists)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		return u.users.Save(ctx, tx, nu)
	})
	if err != nil {
		return nil, err
	}
	metrics.IncUsersRegistered()
	logging.With(ctx, u.log).Info().
		Str("user_id", nu.ID).
		Str("email", logging.Redact(nu.Email, false)).
		Str("role", string(nu.Role)).
		Msg("user registered")
	return nu, nil
}

func (u *userUC) Get(ctx context.Context, id string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.Get")()
	return u.users.FindByID(ctx, repository.NoTX, id)
}

func (u *userUC) Count(ctx context.Context) (int, error) {
	defer logging.TraceDuration(u.log, "UserUC.Count")()
	return u.users.CountUsers(ctx, repository.NoTX)
}
