package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"

	"github.com/tallypay/authcore/internal/audit"
	"github.com/tallypay/authcore/internal/config"
	"github.com/tallypay/authcore/internal/database"
	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/kvstore"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/notify"
	rediskeys "github.com/tallypay/authcore/internal/redis"
	"github.com/tallypay/authcore/internal/repository"
	"github.com/tallypay/authcore/internal/util"
)

// Transactor runs fn inside a database transaction. *database.DB satisfies it.
type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type CompanyDetails struct {
	Name        string `json:"companyName"`
	ShortName   string `json:"shortName"`
	CountryCode string `json:"countryCode"`
	PhoneNumber string `json:"phoneNumber"`
}

type OwnerDetails struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type BeginRegistrationInput struct {
	Company CompanyDetails
	Owner   OwnerDetails
}

type BeginRegistrationResult struct {
	SessionToken      string    `json:"sessionToken"`
	CompanyIdentifier string    `json:"companyIdentifier"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

type SetCredentialsInput struct {
	SessionToken    string
	Username        string
	Password        string
	ConfirmPassword string
}

type SetCredentialsResult struct {
	SessionToken string `json:"sessionToken"`
	Username     string `json:"username"`
	TOTPSecret   string `json:"totpSecret"`
	OTPAuthURL   string `json:"otpauthUrl"`
}

type CompleteRegistrationInput struct {
	SessionToken string
	TOTPCode     string
	BackupCodes  []string
}

type CompleteRegistrationResult struct {
	Company     *model.Company   `json:"company"`
	User        model.PublicUser `json:"user"`
	BackupCodes []string         `json:"backupCodes"`
}

type RegistrationStatus struct {
	CurrentStep         int       `json:"currentStep"`
	TotalSteps          int       `json:"totalSteps"`
	NextStepDescription string    `json:"nextStepDescription"`
	ExpiresAt           time.Time `json:"expiresAt"`
}

var stepDescriptions = map[int]string{
	1: "Set your username and password",
	2: "Verify your authenticator app with a two-factor code",
	3: "Registration complete",
}

const registrationResource = "registration session"

type RegistrationService struct {
	kv         kvstore.Store
	tx         Transactor
	companies  repository.CompanyRepository
	roles      repository.RoleRepository
	users      repository.UserRepository
	guard      *SecurityGuard
	notifier   notify.Notifier
	box        *util.SecretBox
	totpIssuer string
	now        func() time.Time
}

func NewRegistrationService(
	kv kvstore.Store,
	tx Transactor,
	companies repository.CompanyRepository,
	roles repository.RoleRepository,
	users repository.UserRepository,
	guard *SecurityGuard,
	notifier notify.Notifier,
	box *util.SecretBox,
	totpIssuer string,
) *RegistrationService {
	return &RegistrationService{
		kv:         kv,
		tx:         tx,
		companies:  companies,
		roles:      roles,
		users:      users,
		guard:      guard,
		notifier:   notifier,
		box:        box,
		totpIssuer: totpIssuer,
		now:        time.Now,
	}
}

// Begin validates company and owner details and opens a registration session at step 1.
func (s *RegistrationService) Begin(ctx context.Context, input BeginRegistrationInput) (*BeginRegistrationResult, error) {
	company := CompanyDetails{
		Name:        strings.TrimSpace(input.Company.Name),
		ShortName:   strings.TrimSpace(input.Company.ShortName),
		CountryCode: strings.TrimSpace(input.Company.CountryCode),
		PhoneNumber: strings.TrimSpace(input.Company.PhoneNumber),
	}
	owner := OwnerDetails{
		FirstName: strings.TrimSpace(input.Owner.FirstName),
		LastName:  strings.TrimSpace(input.Owner.LastName),
		Email:     util.NormalizeEmail(input.Owner.Email),
	}
	if err := validateBegin(company, owner); err != nil {
		return nil, err
	}

	if err := s.checkBeginConflicts(ctx, company, owner); err != nil {
		return nil, err
	}

	identifier, err := s.allocateIdentifier(ctx, company.CountryCode, company.ShortName)
	if err != nil {
		return nil, err
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate registration token: %w", err)
	}

	now := s.now()
	session := model.RegistrationSession{
		Token: token,
		Step:  1,
		Company: model.CompanyDraft{
			Name:        company.Name,
			ShortName:   company.ShortName,
			Identifier:  identifier,
			CountryCode: company.CountryCode,
			PhoneNumber: company.PhoneNumber,
		},
		User: model.UserDraft{
			FirstName: owner.FirstName,
			LastName:  owner.LastName,
			Email:     owner.Email,
		},
		OwnerEmail: owner.Email,
		CreatedAt:  now,
		ExpiresAt:  now.Add(config.RegistrationTTL),
	}
	if err := s.kv.Set(ctx, rediskeys.RegistrationKey(token), session, config.RegistrationTTL); err != nil {
		return nil, fmt.Errorf("store registration session: %w", err)
	}

	s.send(ctx, notify.RegistrationStarted(owner.Email, identifier, session.ExpiresAt))
	audit.Log(ctx, audit.Event{
		Type:    audit.EventRegistrationStarted,
		Email:   owner.Email,
		Details: map[string]interface{}{"identifier": identifier},
	})

	return &BeginRegistrationResult{
		SessionToken:      token,
		CompanyIdentifier: identifier,
		ExpiresAt:         session.ExpiresAt,
	}, nil
}

func validateBegin(company CompanyDetails, owner OwnerDetails) error {
	problems := map[string]string{}
	if !util.LengthBetween(company.Name, 2, 100) {
		problems["companyName"] = "must be between 2 and 100 characters"
	}
	if len(company.ShortName) > 20 {
		problems["shortName"] = "must be at most 20 characters"
	}
	if !util.IsValidCountryCode(company.CountryCode) {
		problems["countryCode"] = "must be two uppercase letters"
	}
	if !util.IsValidE164(company.PhoneNumber) {
		problems["phoneNumber"] = "must be in E.164 format, e.g. +14155550123"
	}
	if !util.IsValidEmail(owner.Email) {
		problems["email"] = "must be a valid email address"
	}
	if !util.LengthBetween(owner.FirstName, 1, 50) {
		problems["firstName"] = "must be between 1 and 50 characters"
	}
	if !util.LengthBetween(owner.LastName, 1, 50) {
		problems["lastName"] = "must be between 1 and 50 characters"
	}
	if len(problems) > 0 {
		return apperrors.ValidationError("Invalid registration details").WithDetails(problems)
	}
	return nil
}

func (s *RegistrationService) checkBeginConflicts(ctx context.Context, company CompanyDetails, owner OwnerDetails) error {
	checks := []struct {
		exists  func(context.Context, string) (bool, error)
		value   string
		message string
	}{
		{s.users.ExistsByEmail, owner.Email, "Email is already registered"},
		{s.companies.ExistsByName, company.Name, "Company name is already registered"},
		{s.companies.ExistsByPhone, company.PhoneNumber, "Phone number is already registered"},
	}
	for _, c := range checks {
		found, err := c.exists(ctx, c.value)
		if err != nil {
			return apperrors.Database(err)
		}
		if found {
			return apperrors.Conflict(c.message)
		}
	}
	return nil
}

func (s *RegistrationService) allocateIdentifier(ctx context.Context, countryCode, shortName string) (string, error) {
	for attempt := 0; attempt < config.IdentifierMaxAttempts; attempt++ {
		identifier, err := GenerateCompanyIdentifier(countryCode, shortName)
		if err != nil {
			return "", fmt.Errorf("generate company identifier: %w", err)
		}
		taken, err := s.companies.ExistsByIdentifier(ctx, identifier)
		if err != nil {
			return "", apperrors.Database(err)
		}
		if !taken {
			return identifier, nil
		}
		log.Debug().Str("identifier", identifier).Int("attempt", attempt+1).Msg("company identifier collision")
	}
	return "", apperrors.Conflict("Could not allocate a unique company identifier, please try again")
}

// SetCredentials records the owner's username and password hash and issues
// the TOTP secret the owner enrolls. The session moves from step 1 to 2.
func (s *RegistrationService) SetCredentials(ctx context.Context, input SetCredentialsInput) (*SetCredentialsResult, error) {
	if input.SessionToken == "" {
		return nil, apperrors.MissingRequired("sessionToken")
	}
	username := strings.TrimSpace(input.Username)
	if !util.IsValidUsername(username) {
		return nil, apperrors.InvalidInput("username", "must be 3-50 characters of letters, digits, '_', '.' or '-'")
	}
	if input.Password != input.ConfirmPassword {
		return nil, apperrors.ValidationError("Passwords do not match")
	}
	if problems := util.PasswordProblems(input.Password); len(problems) > 0 {
		return nil, apperrors.ValidationError("Password must contain " + strings.Join(problems, ", ")).
			WithDetails(map[string][]string{"password": problems})
	}

	key := rediskeys.RegistrationKey(input.SessionToken)
	var current model.RegistrationSession
	if err := s.load(ctx, key, &current); err != nil {
		return nil, err
	}
	if current.Step != 1 {
		return nil, apperrors.StepMismatch(1, current.Step)
	}

	taken, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if taken {
		return nil, apperrors.Conflict("Username is already taken")
	}

	hash, err := util.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	key2fa, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totpIssuer,
		AccountName: current.OwnerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	sealed, err := s.box.Seal(key2fa.Secret())
	if err != nil {
		return nil, fmt.Errorf("seal totp secret: %w", err)
	}

	var session model.RegistrationSession
	err = s.kv.Update(ctx, key, &session, func() error {
		if session.Step != 1 {
			return apperrors.StepMismatch(1, session.Step)
		}
		session.Step = 2
		session.User.Username = username
		session.User.PasswordHash = hash
		session.TOTPSecret = sealed
		return nil
	}, kvstore.KeepTTL)
	if err != nil {
		return nil, s.sessionError(err)
	}

	s.send(ctx, notify.CredentialsSet(session.OwnerEmail, username))
	audit.Log(ctx, audit.Event{
		Type:    audit.EventCredentialsSet,
		Email:   session.OwnerEmail,
		Details: map[string]interface{}{"username": username},
	})

	return &SetCredentialsResult{
		SessionToken: input.SessionToken,
		Username:     username,
		TOTPSecret:   key2fa.Secret(),
		OTPAuthURL:   key2fa.URL(),
	}, nil
}

// Complete verifies the owner's first TOTP code and creates the company, its
// admin role and the owner in one transaction.
func (s *RegistrationService) Complete(ctx context.Context, input CompleteRegistrationInput) (*CompleteRegistrationResult, error) {
	if input.SessionToken == "" {
		return nil, apperrors.MissingRequired("sessionToken")
	}
	code := strings.TrimSpace(input.TOTPCode)
	if !util.IsValidNumericCode(code) {
		return nil, apperrors.InvalidInput("twoFactorToken", "must be a 6-digit code")
	}

	lockKey := rediskeys.RegistrationLockKey(input.SessionToken)
	reserved, err := s.kv.Reserve(ctx, lockKey, config.RegistrationLockTTL)
	if err != nil {
		return nil, fmt.Errorf("reserve registration: %w", err)
	}
	if !reserved {
		return nil, apperrors.Conflict("Registration is already being completed")
	}
	defer func() {
		if _, err := s.kv.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			log.Warn().Err(err).Msg("failed to release registration lock")
		}
	}()

	key := rediskeys.RegistrationKey(input.SessionToken)
	var session model.RegistrationSession
	if err := s.load(ctx, key, &session); err != nil {
		return nil, err
	}
	if session.Step != 2 {
		return nil, apperrors.StepMismatch(2, session.Step)
	}

	secret, err := s.box.Open(session.TOTPSecret)
	if err != nil {
		return nil, fmt.Errorf("open totp secret: %w", err)
	}
	valid, err := totp.ValidateCustom(code, secret, s.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      config.TOTPRegistrationSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return nil, apperrors.InvalidCode("Invalid two-factor code")
	}

	backupCodes, err := resolveBackupCodes(input.BackupCodes)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}

	var company *model.Company
	var user *model.User
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		company, err = s.companies.WithTx(tx).Create(ctx, model.CreateCompanyParams{
			Name:        session.Company.Name,
			ShortName:   session.Company.ShortName,
			Identifier:  session.Company.Identifier,
			CountryCode: session.Company.CountryCode,
			PhoneNumber: session.Company.PhoneNumber,
			OwnerEmail:  session.OwnerEmail,
		})
		if err != nil {
			return err
		}

		role, err := s.roles.WithTx(tx).Create(ctx, model.CreateRoleParams{
			CompanyID:   company.ID,
			Name:        model.DefaultAdminRoleName,
			Permissions: []string{model.PermissionAll},
			IsDefault:   true,
		})
		if err != nil {
			return err
		}

		user, err = s.users.WithTx(tx).Create(ctx, model.CreateUserParams{
			CompanyID:       company.ID,
			RoleID:          role.ID,
			Username:        session.User.Username,
			Email:           session.User.Email,
			FirstName:       session.User.FirstName,
			LastName:        session.User.LastName,
			PasswordHash:    session.User.PasswordHash,
			TwoFactorSecret: session.TOTPSecret,
			BackupCodes:     util.HashBackupCodes(backupCodes),
		})
		return err
	})
	if err != nil {
		return nil, registrationTxError(err)
	}

	if _, err := s.kv.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("companyId", company.ID).Msg("failed to delete completed registration session")
	}

	s.send(ctx, notify.RegistrationCompleted(user.Email, company.Name, company.Identifier, user.Username))
	if s.guard != nil {
		companyID := company.ID
		s.guard.recordActivity(ctx, model.CreateActivityParams{
			UserID:    user.ID,
			CompanyID: &companyID,
			Action:    model.ActivityRegistrationComplete,
			Metadata:  map[string]any{"identifier": company.Identifier},
		})
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventRegistrationCompleted,
		UserID:    user.ID,
		CompanyID: company.ID,
		Email:     user.Email,
	})

	return &CompleteRegistrationResult{
		Company:     company,
		User:        user.Public(),
		BackupCodes: backupCodes,
	}, nil
}

// Status reports progress of a registration session.
func (s *RegistrationService) Status(ctx context.Context, token string) (*RegistrationStatus, error) {
	if token == "" {
		return nil, apperrors.MissingRequired("sessionToken")
	}
	var session model.RegistrationSession
	if err := s.load(ctx, rediskeys.RegistrationKey(token), &session); err != nil {
		return nil, err
	}
	return &RegistrationStatus{
		CurrentStep:         session.Step,
		TotalSteps:          config.RegistrationTotalSteps,
		NextStepDescription: stepDescriptions[session.Step],
		ExpiresAt:           session.ExpiresAt,
	}, nil
}

// load reads a session, deleting it when its recorded expiry has passed.
func (s *RegistrationService) load(ctx context.Context, key string, dest *model.RegistrationSession) error {
	if err := s.kv.Get(ctx, key, dest); err != nil {
		return s.sessionError(err)
	}
	if !s.now().Before(dest.ExpiresAt) {
		if _, err := s.kv.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Msg("failed to delete expired registration session")
		}
		return apperrors.SessionExpired(registrationResource)
	}
	return nil
}

func (s *RegistrationService) sessionError(err error) error {
	if errors.Is(err, kvstore.ErrNotFound) {
		return apperrors.SessionExpired(registrationResource)
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return fmt.Errorf("registration session store: %w", err)
}

func (s *RegistrationService) send(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		log.Warn().Err(err).Str("notification", string(msg.Kind)).Str("to", msg.To).Msg("registration notification failed")
	}
}

// resolveBackupCodes keeps a complete set of well-formed supplied codes and
// otherwise generates a fresh set.
func resolveBackupCodes(supplied []string) ([]string, error) {
	if len(supplied) == config.BackupCodeCount {
		seen := make(map[string]struct{}, len(supplied))
		codes := make([]string, 0, len(supplied))
		for _, c := range supplied {
			n := util.NormalizeBackupCode(c)
			if _, dup := seen[n]; dup || !util.IsValidBackupCode(n) {
				codes = nil
				break
			}
			seen[n] = struct{}{}
			codes = append(codes, n)
		}
		if codes != nil {
			return codes, nil
		}
	}
	return util.GenerateBackupCodes(config.BackupCodeCount)
}

func registrationTxError(err error) error {
	if !repository.IsUniqueViolation(err) {
		return apperrors.Database(err)
	}
	switch repository.ConstraintName(err) {
	case "users_email_key":
		return apperrors.Conflict("Email is already registered")
	case "users_username_key":
		return apperrors.Conflict("Username is already taken")
	case "companies_name_key":
		return apperrors.Conflict("Company name is already registered")
	case "companies_phone_key":
		return apperrors.Conflict("Phone number is already registered")
	case "companies_identifier_key":
		return apperrors.Conflict("Company identifier is already in use, please restart registration")
	default:
		return apperrors.Conflict("Registration conflicts with an existing record")
	}
}
