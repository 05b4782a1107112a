package httpapi

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/goliatone/go-onboarding"
)

// Routes holds the paths the controller mounts relative to its prefix.
type Routes struct {
	State              string
	Advance            string
	Retreat            string
	GoTo               string
	Data               string
	Reset              string
	Register           string
	EmailCheck         string
	SmsSend            string
	SmsResend          string
	SmsVerify          string
	AccountType        string
	VerificationConfig string
	VerificationEvents string
	Pin                string
	Finish             string
	Close              string
	HostMessages       string
	Token              string
}

// Controller exposes a Session over HTTP.
type Controller struct {
	Session *onboarding.Session
	Outbox  *onboarding.Outbox
	Logger  onboarding.Logger
	Prefix  string
	Routes  *Routes
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger onboarding.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithOutbox exposes the queued host messages under Routes.HostMessages.
func WithOutbox(outbox *onboarding.Outbox) Option {
	return func(c *Controller) {
		c.Outbox = outbox
	}
}

// WithPrefix overrides the "/onboarding" mount point.
func WithPrefix(prefix string) Option {
	return func(c *Controller) {
		c.Prefix = prefix
	}
}

func NewController(session *onboarding.Session, opts ...Option) *Controller {
	c := &Controller{
		Session: session,
		Logger:  nopLogger{},
		Prefix:  "/onboarding",
		Routes: &Routes{
			State:              "/state",
			Advance:            "/advance",
			Retreat:            "/retreat",
			GoTo:               "/goto",
			Data:               "/data/:key",
			Reset:              "/",
			Register:           "/register",
			EmailCheck:         "/email/check",
			SmsSend:            "/sms/send",
			SmsResend:          "/sms/resend",
			SmsVerify:          "/sms/verify",
			AccountType:        "/account-type",
			VerificationConfig: "/verification/config",
			VerificationEvents: "/verification/events",
			Pin:                "/pin",
			Finish:             "/finish",
			Close:              "/close",
			HostMessages:       "/host-messages",
			Token:              "/token",
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Register mounts the controller on app.
func (c *Controller) Register(app fiber.Router) {
	g := app.Group(c.Prefix, c.requestID)

	g.Get(c.Routes.State, c.GetState)
	g.Post(c.Routes.Advance, c.Advance)
	g.Post(c.Routes.Retreat, c.Retreat)
	g.Post(c.Routes.GoTo, c.GoTo)
	g.Put(c.Routes.Data, c.PutData)
	g.Delete(c.Routes.Reset, c.Reset)

	g.Post(c.Routes.Register, c.RegisterApplicant)
	g.Post(c.Routes.EmailCheck, c.CheckEmail)
	g.Post(c.Routes.SmsSend, c.SendSmsCode)
	g.Post(c.Routes.SmsResend, c.ResendSmsCode)
	g.Post(c.Routes.SmsVerify, c.VerifySmsCode)
	g.Post(c.Routes.AccountType, c.SubmitAccountType)
	g.Get(c.Routes.VerificationConfig, c.GetVerificationConfig)
	g.Post(c.Routes.VerificationEvents, c.VerificationEvent)
	g.Post(c.Routes.Pin, c.SetPin)
	g.Post(c.Routes.Finish, c.Finish)
	g.Post(c.Routes.Close, c.Close)

	g.Get(c.Routes.HostMessages, c.HostMessages)
	g.Get(c.Routes.Token, c.GetToken)
}

// requestID forwards X-Request-Id into the user context so platform calls
// made for this request carry the same id.
func (c *Controller) requestID(ctx *fiber.Ctx) error {
	if id := ctx.Get(fiber.HeaderXRequestID); id != "" {
		ctx.SetUserContext(onboarding.WithRequestID(ctx.UserContext(), id))
		ctx.Set(fiber.HeaderXRequestID, id)
	}
	return ctx.Next()
}

func (c *Controller) GetState(ctx *fiber.Ctx) error {
	return ctx.JSON(c.Session.State())
}

func (c *Controller) Advance(ctx *fiber.Ctx) error {
	if _, err := c.Session.Advance(ctx.UserContext(), onboarding.WithTransitionReason("http")); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

func (c *Controller) Retreat(ctx *fiber.Ctx) error {
	if _, err := c.Session.Retreat(ctx.UserContext(), onboarding.WithTransitionReason("http")); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

type goToPayload struct {
	Step string `json:"step"`
}

func (c *Controller) GoTo(ctx *fiber.Ctx) error {
	payload := new(goToPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return c.badBody(ctx, err)
	}

	step, err := onboarding.ParseStep(payload.Step)
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := c.Session.GoTo(ctx.UserContext(), step, onboarding.WithTransitionReason("http")); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

func (c *Controller) PutData(ctx *fiber.Ctx) error {
	key := onboarding.DataKey(ctx.Params("key"))
	// fasthttp reuses the body buffer once the handler returns
	raw := append([]byte(nil), ctx.Body()...)

	if err := c.Session.SetStepDataJSON(ctx.UserContext(), key, raw); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

func (c *Controller) Reset(ctx *fiber.Ctx) error {
	if err := c.Session.Reset(ctx.UserContext()); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

func (c *Controller) RegisterApplicant(ctx *fiber.Ctx) error {
	msg := onboarding.RegisterApplicantMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return c.badBody(ctx, err)
	}

	var resp *onboarding.RegisterApplicantResponse
	msg.OnResponse = func(r *onboarding.RegisterApplicantResponse) { resp = r }

	if err := onboarding.NewRegisterApplicantHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"result": resp,
		"state":  c.Session.State(),
	})
}

func (c *Controller) CheckEmail(ctx *fiber.Ctx) error {
	verified := false
	msg := onboarding.CheckEmailVerificationMessage{
		OnResponse: func(ok bool) { verified = ok },
	}
	if err := onboarding.NewCheckEmailVerificationHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"verified": verified,
		"state":    c.Session.State(),
	})
}

func (c *Controller) SendSmsCode(ctx *fiber.Ctx) error {
	msg := onboarding.SendSmsCodeMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return c.badBody(ctx, err)
	}

	cell := ""
	msg.OnResponse = func(number string) { cell = number }

	if err := onboarding.NewSendSmsCodeHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"cellNumber": cell})
}

func (c *Controller) ResendSmsCode(ctx *fiber.Ctx) error {
	if err := onboarding.NewResendSmsCodeHandler(c.Session).Execute(ctx.UserContext(), onboarding.ResendSmsCodeMessage{}); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusAccepted)
}

func (c *Controller) VerifySmsCode(ctx *fiber.Ctx) error {
	msg := onboarding.VerifySmsCodeMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return c.badBody(ctx, err)
	}
	if err := onboarding.NewVerifySmsCodeHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

func (c *Controller) SubmitAccountType(ctx *fiber.Ctx) error {
	msg := onboarding.SubmitAccountTypeMessage{}
	if err := ctx.BodyParser(&msg.AccountTypeData); err != nil {
		return c.badBody(ctx, err)
	}
	if err := onboarding.NewSubmitAccountTypeHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

func (c *Controller) GetVerificationConfig(ctx *fiber.Ctx) error {
	return ctx.JSON(c.Session.VerificationConfig())
}

func (c *Controller) VerificationEvent(ctx *fiber.Ctx) error {
	msg := onboarding.VerificationEventMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return c.badBody(ctx, err)
	}
	if err := onboarding.NewVerificationEventHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

func (c *Controller) SetPin(ctx *fiber.Ctx) error {
	msg := onboarding.SetPinMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return c.badBody(ctx, err)
	}
	if err := onboarding.NewSetPinHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return c.state(ctx)
}

func (c *Controller) Finish(ctx *fiber.Ctx) error {
	result := onboarding.BridgeResult{}
	msg := onboarding.FinishOnboardingMessage{
		OnResponse: func(r onboarding.BridgeResult) { result = r },
	}
	if err := onboarding.NewFinishOnboardingHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(result)
}

func (c *Controller) Close(ctx *fiber.Ctx) error {
	result := onboarding.BridgeResult{}
	msg := onboarding.CloseOnboardingMessage{
		OnResponse: func(r onboarding.BridgeResult) { result = r },
	}
	if err := onboarding.NewCloseOnboardingHandler(c.Session).Execute(ctx.UserContext(), msg); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(result)
}

// HostMessages drains the messages queued for the native shell.
func (c *Controller) HostMessages(ctx *fiber.Ctx) error {
	if c.Outbox == nil {
		return ctx.Status(fiber.StatusNotFound).JSON(errorBody("host bridge disabled", "HOST_BRIDGE_DISABLED", "", nil))
	}
	messages := c.Outbox.Drain()
	if messages == nil {
		messages = []onboarding.HostMessage{}
	}
	return ctx.JSON(fiber.Map{"messages": messages})
}

// GetToken reports the cached credential for diagnostics.
func (c *Controller) GetToken(ctx *fiber.Ctx) error {
	out := fiber.Map{"accessToken": c.Session.AccessToken()}
	if tok := c.Session.Tokens().Credential(); tok != nil && !tok.Expiry.IsZero() {
		out["expiresAt"] = tok.Expiry.UTC().Format(time.RFC3339)
		out["hasRefreshToken"] = tok.RefreshToken != ""
	}
	if claims, err := c.Session.Tokens().Claims(); err == nil {
		out["claims"] = claims
	}
	return ctx.JSON(out)
}

func (c *Controller) state(ctx *fiber.Ctx) error {
	return ctx.JSON(c.Session.State())
}

func (c *Controller) badBody(ctx *fiber.Ctx, err error) error {
	c.Logger.Debug("request body rejected: %v", err)
	return ctx.Status(fiber.StatusBadRequest).JSON(errorBody("invalid request body", "INVALID_BODY", fmt.Sprint(goerrors.CategoryBadInput), nil))
}

func (c *Controller) fail(ctx *fiber.Ctx, err error) error {
	status := StatusFor(err)

	message := err.Error()
	textCode := ""
	category := ""
	var metadata map[string]any

	var richErr *goerrors.Error
	if errors.As(err, &richErr) {
		message = richErr.Message
		textCode = richErr.TextCode
		category = fmt.Sprint(richErr.Category)
		metadata = maps.Clone(richErr.Metadata)
	}

	var apiErr *onboarding.APIError
	var authErr *onboarding.AuthError
	switch {
	case errors.As(err, &apiErr):
		metadata = apiErr.Metadata()
	case errors.As(err, &authErr):
		metadata = authErr.Metadata()
	}

	if status >= http.StatusInternalServerError {
		c.Logger.Error("%s %s failed: %v %s", ctx.Method(), ctx.Path(), err, print.MaybePrettyJSON(metadata))
	} else {
		c.Logger.Info("%s %s rejected: %v", ctx.Method(), ctx.Path(), err)
	}

	if fields := onboarding.ValidationFields(err); fields != nil {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["fields"] = fields
	}
	if retry, ok := metadata["retry_after_seconds"].(int); ok {
		ctx.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
	}

	return ctx.Status(status).JSON(errorBody(message, textCode, category, metadata))
}

// StatusFor maps a session error to the HTTP status the adapter answers with.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var apiErr *onboarding.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	}

	var authErr *onboarding.AuthError
	if errors.As(err, &authErr) {
		return http.StatusBadGateway
	}

	if onboarding.IsValidationError(err) {
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	var richErr *goerrors.Error
	if errors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation:
			return http.StatusBadRequest
		case goerrors.CategoryRateLimit:
			return http.StatusTooManyRequests
		case goerrors.CategoryConflict:
			return http.StatusConflict
		case goerrors.CategoryNotFound:
			return http.StatusNotFound
		}
		if richErr.TextCode == onboarding.TextCodeSessionShutdown {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

func errorBody(message, textCode, category string, metadata map[string]any) fiber.Map {
	body := fiber.Map{"message": message}
	if textCode != "" {
		body["text_code"] = textCode
	}
	if category != "" {
		body["category"] = category
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	return fiber.Map{"error": body}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
