package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadassist/identity"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("account: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("account: email already exists")
	// ErrDuplicateCNIC signals that another provider registered the CNIC.
	ErrDuplicateCNIC = errors.New("account: cnic already exists")
)

// Repository handles account persistence.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	ListByIDs(ctx context.Context, ids []string) ([]User, error)
	SetLive(ctx context.Context, userID string, live bool) (User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email        string
	FullName     string
	PasswordHash string
	Phone        string
	Role         identity.Role
	Provider     *ProviderProfile
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectUser = `
	SELECT u.id::text, u.email, u.full_name, u.password_hash, u.phone, u.role, u.rating,
	       u.created_at, u.updated_at,
	       p.user_id::text, p.cnic, p.address, p.service_areas, p.experience, p.vehicle_types, p.service_radius_km,
	       p.hourly_rate, p.availability, p.is_live
	FROM users u
	LEFT JOIN provider_profiles p ON p.user_id = u.id
`

// CreateUser inserts the user and, for providers, the profile in one transaction.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return User{}, fmt.Errorf("account: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertUser = `
		INSERT INTO users (email, full_name, password_hash, phone, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text
	`
	var id string
	if err := tx.QueryRow(ctx, insertUser, params.Email, params.FullName, params.PasswordHash, params.Phone, params.Role).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("account: create user: %w", err)
	}

	if p := params.Provider; p != nil {
		const insertProfile = `
			INSERT INTO provider_profiles (user_id, cnic, address, service_areas, experience, vehicle_types,
			                               service_radius_km, hourly_rate, availability)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		if _, err := tx.Exec(ctx, insertProfile,
			id, p.CNIC, p.Address, p.ServiceAreas, p.Experience, p.VehicleTypes,
			p.ServiceRadiusKm, p.HourlyRate, p.Availability,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return User{}, ErrDuplicateCNIC
			}
			return User{}, fmt.Errorf("account: create provider profile: %w", err)
		}
	}

	user, err := scanUser(tx.QueryRow(ctx, selectUser+` WHERE u.id = $1`, id))
	if err != nil {
		return User{}, fmt.Errorf("account: reload user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, fmt.Errorf("account: commit: %w", err)
	}
	return user, nil
}

func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE u.email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("account: get user by email: %w", err)
	}
	return user, nil
}

func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE u.id = $1`, userID))
	if err != nil {
		if isMissing(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("account: get user by id: %w", err)
	}
	return user, nil
}

// ListByIDs returns the users that exist among ids, in no particular order.
func (r *PGRepository) ListByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, selectUser+` WHERE u.id::text = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("account: list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("account: scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: iterate users: %w", err)
	}
	return out, nil
}

// SetLive toggles the provider's live flag. Users without a provider profile
// are reported as ErrUserNotFound.
func (r *PGRepository) SetLive(ctx context.Context, userID string, live bool) (User, error) {
	const q = `UPDATE provider_profiles SET is_live = $2, updated_at = now() WHERE user_id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, live)
	if err != nil {
		if isMissing(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("account: set live: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return User{}, ErrUserNotFound
	}
	return r.GetUserByID(ctx, userID)
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user         User
		profileID    *string
		cnic         *string
		address      *string
		areas        *string
		experience   *string
		vehicleTypes []string
		radius       *float64
		rate         *float64
		availability *string
		live         *bool
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Phone,
		&user.Role,
		&user.Rating,
		&user.CreatedAt,
		&user.UpdatedAt,
		&profileID,
		&cnic,
		&address,
		&areas,
		&experience,
		&vehicleTypes,
		&radius,
		&rate,
		&availability,
		&live,
	)
	if err != nil {
		return User{}, err
	}

	if profileID != nil {
		user.Provider = &ProviderProfile{
			CNIC:            deref(cnic),
			Address:         deref(address),
			ServiceAreas:    deref(areas),
			Experience:      deref(experience),
			VehicleTypes:    vehicleTypes,
			ServiceRadiusKm: derefFloat(radius),
			HourlyRate:      derefFloat(rate),
			Availability:    Availability(deref(availability)),
			IsLive:          live != nil && *live,
		}
	}
	return user, nil
}

func isMissing(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
