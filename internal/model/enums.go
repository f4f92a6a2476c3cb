package model

type ChallengeMethod string

const (
	ChallengeMethodOTP  ChallengeMethod = "otp"
	ChallengeMethodTOTP ChallengeMethod = "totp"
)

type ActivityAction string

const (
	ActivityLogin                ActivityAction = "login"
	ActivityLogout               ActivityAction = "logout"
	ActivityLogoutAll            ActivityAction = "logout_all"
	ActivityTokenRefresh         ActivityAction = "token_refresh"
	ActivityRegistrationComplete ActivityAction = "registration_completed"
	ActivityBackupCodeUsed       ActivityAction = "backup_code_used"
	ActivityAccountUnlocked      ActivityAction = "account_unlocked"
	ActivitySessionsRevoked      ActivityAction = "sessions_revoked"
)

// Permissions carried on roles.
const (
	PermissionAll            = "*"
	PermissionSecurityManage = "security:manage"
)

const DefaultAdminRoleName = "Administrator"
