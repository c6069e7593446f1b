package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
)

// UserResponse is the JSON view of a SystemUser
type UserResponse struct {
	ID      string   `json:"id"`
	Active  bool     `json:"active"`
	Roles   []string `json:"roles"`
	Version *int64   `json:"version,omitempty"`
}

func newUserResponse(u *identity.SystemUser) UserResponse {
	res := UserResponse{
		ID:     u.ID().String(),
		Active: u.IsActive(),
		Roles:  u.Roles().Strings(),
	}
	if v, ok := u.Version(); ok {
		res.Version = &v
	}
	return res
}

type messageResponse struct {
	Message string `json:"message"`
}

const (
	resendMessage = "If the account exists and is pending verification, a new verification email has been sent."
	resetMessage  = "If the account exists, a password reset email has been sent."
)

func (c *Controller) RegisterUser(ctx *fiber.Ctx) error {
	payload := new(RegisterRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	id, err := c.Registration.RegisterUser(ctx.UserContext(), payload.message())
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      id.String(),
		"message": "Registration successful. Please check your email to verify your account.",
	})
}

func (c *Controller) VerifyEmail(ctx *fiber.Ctx) error {
	token := ctx.Query("token")
	if token == "" {
		return identity.ErrInvalidOrExpiredToken.Clone()
	}

	if err := c.Accounts.VerifyEmail(ctx.UserContext(), token); err != nil {
		return err
	}

	return ctx.JSON(messageResponse{Message: "Email verified successfully."})
}

func (c *Controller) ResendVerification(ctx *fiber.Ctx) error {
	payload := new(EmailRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	if err := c.Accounts.ResendVerification(ctx.UserContext(), payload.Email); err != nil {
		return err
	}

	return ctx.Status(fiber.StatusAccepted).JSON(messageResponse{Message: resendMessage})
}

func (c *Controller) Login(ctx *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	tokens, err := c.Accounts.Login(ctx.UserContext(), payload.Username, payload.Password)
	if err != nil {
		c.Logger.Info("login failed for %s: %s", payload.Username, err)
		return err
	}

	return ctx.JSON(tokens)
}

func (c *Controller) Refresh(ctx *fiber.Ctx) error {
	payload := new(RefreshRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	tokens, err := c.Accounts.Refresh(ctx.UserContext(), payload.RefreshToken)
	if err != nil {
		return err
	}

	return ctx.JSON(tokens)
}

func (c *Controller) Logout(ctx *fiber.Ctx) error {
	payload := new(RefreshRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	c.Accounts.Logout(ctx.UserContext(), payload.RefreshToken)
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) InitiatePasswordReset(ctx *fiber.Ctx) error {
	payload := new(EmailRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	if err := c.Accounts.InitiatePasswordReset(ctx.UserContext(), payload.Email); err != nil {
		return err
	}

	return ctx.Status(fiber.StatusAccepted).JSON(messageResponse{Message: resetMessage})
}

func (c *Controller) ResetPassword(ctx *fiber.Ctx) error {
	payload := new(ResetPasswordRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	if err := c.Accounts.ResetPassword(ctx.UserContext(), payload.Token, payload.NewPassword); err != nil {
		return err
	}

	return ctx.JSON(messageResponse{Message: "Password has been reset."})
}

func (c *Controller) ChangePassword(ctx *fiber.Ctx) error {
	_, id, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	payload := new(ChangePasswordRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	if err := c.Accounts.ChangePassword(ctx.UserContext(), id, payload.CurrentPassword, payload.NewPassword); err != nil {
		return err
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) ChangeEmail(ctx *fiber.Ctx) error {
	_, id, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	payload := new(ChangeEmailRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	if err := c.Accounts.ChangeEmail(ctx.UserContext(), id, payload.NewEmail); err != nil {
		return err
	}

	return ctx.Status(fiber.StatusAccepted).JSON(messageResponse{
		Message: "Email changed. Please verify the new address to reactivate your account.",
	})
}

func (c *Controller) ListUsers(ctx *fiber.Ctx) error {
	users, err := c.Lifecycle.ListUsers(ctx.UserContext())
	if err != nil {
		return err
	}

	out := make([]UserResponse, len(users))
	for i, u := range users {
		out[i] = newUserResponse(u)
	}
	return ctx.JSON(out)
}

func (c *Controller) GetUser(ctx *fiber.Ctx) error {
	id, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	user, err := c.Lifecycle.GetUser(ctx.UserContext(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(newUserResponse(user))
}

func (c *Controller) CreateUser(ctx *fiber.Ctx) error {
	principal, _, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	payload := new(CreateUserRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	roles, err := identity.ParseRoleSet(payload.Roles)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(payload.ID)
	if err != nil {
		return invalidRequest(err)
	}

	user, err := c.Lifecycle.CreateUser(ctx.UserContext(), actorOf(principal), id, payload.Active, roles)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(newUserResponse(user))
}

func (c *Controller) ActivateUser(ctx *fiber.Ctx) error {
	principal, _, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	id, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	if err := c.Lifecycle.Activate(ctx.UserContext(), actorOf(principal), id); err != nil {
		return err
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) DeactivateUser(ctx *fiber.Ctx) error {
	_, requesterID, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	id, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	if err := c.Lifecycle.Deactivate(ctx.UserContext(), id, requesterID); err != nil {
		return err
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) ReplaceUserRoles(ctx *fiber.Ctx) error {
	principal, _, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	id, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	payload := new(ReplaceRolesRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	roles, err := identity.ParseRoleSet(payload.Roles)
	if err != nil {
		return err
	}

	if err := c.Lifecycle.ReplaceRoles(ctx.UserContext(), actorOf(principal), id, roles); err != nil {
		return err
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// MappingResponse is the JSON view of a RolePermissionMapping
type MappingResponse struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Permission string    `json:"permission"`
	CreatedAt  time.Time `json:"created_at"`
}

func newMappingResponses(mappings []*identity.RolePermissionMapping) []MappingResponse {
	out := make([]MappingResponse, len(mappings))
	for i, m := range mappings {
		out[i] = MappingResponse{
			ID:         m.ID.String(),
			Role:       string(m.Role),
			Permission: string(m.Permission),
			CreatedAt:  m.CreatedAt,
		}
	}
	return out
}

func (c *Controller) MyPermissions(ctx *fiber.Ctx) error {
	principal, _, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	perms, err := c.Permissions.PermissionsFor(ctx.UserContext(), principal)
	if err != nil {
		return err
	}

	return ctx.JSON(fiber.Map{
		"principal":   principal.CacheKey(),
		"roles":       principal.RoleSet().Strings(),
		"permissions": perms.Strings(),
	})
}

func (c *Controller) ListMappings(ctx *fiber.Ctx) error {
	mappings, err := c.Permissions.ListMappings(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(newMappingResponses(mappings))
}

func (c *Controller) MappingsByRole(ctx *fiber.Ctx) error {
	role, err := identity.ParseRole(ctx.Params("role"))
	if err != nil {
		return err
	}

	mappings, err := c.Permissions.MappingsByRole(ctx.UserContext(), role)
	if err != nil {
		return err
	}
	return ctx.JSON(newMappingResponses(mappings))
}

func (c *Controller) CreateMapping(ctx *fiber.Ctx) error {
	principal, _, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	payload := new(CreateMappingRequest)
	if err := c.bind(ctx, payload); err != nil {
		return err
	}

	role, err := identity.ParseRole(payload.Role)
	if err != nil {
		return err
	}

	permission, err := identity.ParsePermission(payload.Permission)
	if err != nil {
		return err
	}

	mapping, err := c.Permissions.CreateMapping(ctx.UserContext(), actorOf(principal), role, permission)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(newMappingResponses([]*identity.RolePermissionMapping{mapping})[0])
}

func (c *Controller) DeleteMapping(ctx *fiber.Ctx) error {
	principal, _, err := principalFrom(ctx)
	if err != nil {
		return err
	}

	id, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	if err := c.Permissions.DeleteMapping(ctx.UserContext(), actorOf(principal), id); err != nil {
		return err
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}
