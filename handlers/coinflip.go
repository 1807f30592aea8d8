// handlers/coinflip.go
package handlers

import (
	"context"
	"errors"
	"strconv"

	"heads-or-tails/logging"
	"heads-or-tails/middleware"
	"heads-or-tails/models"
	"heads-or-tails/registry"
	"heads-or-tails/services"

	"github.com/gofiber/fiber/v2"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logging.New("module", "handlers")

type createGameRequest struct {
	Guess      *bool           `json:"guess"`
	Commitment models.HexBytes `json:"commitment"`
}

type joinGameRequest struct {
	Commitment models.HexBytes `json:"commitment"`
}

type revealRequest struct {
	Secret models.HexBytes `json:"secret"`
}

// CoinFlipHandler exposes CoinFlipService over HTTP.
type CoinFlipHandler struct {
	Service *services.CoinFlipService
}

func SetupCoinFlipRoutes(app *fiber.App, svc *services.CoinFlipService) {
	h := &CoinFlipHandler{Service: svc}

	app.Get("/metrics", h.Metrics)

	// 🔐 everything under /coinflip needs the gateway user context
	secured := app.Group("/coinflip", middleware.UserContextMiddleware())

	secured.Get("/games", h.ListGames)
	secured.Post("/games", h.CreateGame)
	secured.Get("/games/:id", h.GetGame)
	secured.Get("/games/:id/transfers", h.GetTransfers)
	secured.Post("/games/:id/join", h.JoinGame)
	secured.Post("/games/:id/first-reveal", h.FirstReveal)
	secured.Post("/games/:id/second-reveal", h.SecondReveal)
	secured.Post("/games/:id/prize", h.GetPrize)

	secured.Post("/admin/clean", h.Clean)
}

// StatusFor maps engine errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrGameNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrNotPlayer), errors.Is(err, services.ErrNotPrivileged):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrTimeout):
		return fiber.StatusTooEarly
	case errors.Is(err, services.ErrState):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

func fail(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string, err error) error {
	body := fiber.Map{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

func gameID(c *fiber.Ctx) (uint64, error) {
	return strconv.ParseUint(c.Params("id"), 10, 64)
}

func caller(c *fiber.Ctx) services.Caller {
	cl, _ := middleware.CallerFrom(c)
	return cl
}

// CreateGame handles POST /coinflip/games. The stake is X-Attached-Deposit.
func (h *CoinFlipHandler) CreateGame(c *fiber.Ctx) error {
	var req createGameRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	if req.Guess == nil {
		return badRequest(c, "guess is required", nil)
	}

	id, err := h.Service.CreateGame(c.UserContext(), caller(c), *req.Guess, req.Commitment)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *CoinFlipHandler) JoinGame(c *fiber.Ctx) error {
	id, err := gameID(c)
	if err != nil {
		return badRequest(c, "invalid game id", err)
	}
	var req joinGameRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}

	if err := h.Service.JoinGame(c.UserContext(), caller(c), id, req.Commitment); err != nil {
		return fail(c, err)
	}
	g, err := h.Service.GetGameState(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(g)
}

func (h *CoinFlipHandler) FirstReveal(c *fiber.Ctx) error {
	return h.reveal(c, h.Service.FirstReveal)
}

func (h *CoinFlipHandler) SecondReveal(c *fiber.Ctx) error {
	return h.reveal(c, h.Service.SecondReveal)
}

type revealFunc func(ctx context.Context, caller services.Caller, id uint64, secret []byte) (*models.Game, error)

func (h *CoinFlipHandler) reveal(c *fiber.Ctx, fn revealFunc) error {
	id, err := gameID(c)
	if err != nil {
		return badRequest(c, "invalid game id", err)
	}
	var req revealRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}

	g, err := fn(c.UserContext(), caller(c), id, req.Secret)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(g)
}

func (h *CoinFlipHandler) GetPrize(c *fiber.Ctx) error {
	id, err := gameID(c)
	if err != nil {
		return badRequest(c, "invalid game id", err)
	}
	g, err := h.Service.GetPrize(c.UserContext(), caller(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(g)
}

func (h *CoinFlipHandler) GetGame(c *fiber.Ctx) error {
	id, err := gameID(c)
	if err != nil {
		return badRequest(c, "invalid game id", err)
	}
	g, err := h.Service.GetGameState(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(g)
}

func (h *CoinFlipHandler) GetTransfers(c *fiber.Ctx) error {
	id, err := gameID(c)
	if err != nil {
		return badRequest(c, "invalid game id", err)
	}
	ts, err := h.Service.GameTransfers(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(ts)
}

// ListGames handles GET /coinflip/games?state=&player=&limit=.
func (h *CoinFlipHandler) ListGames(c *fiber.Ctx) error {
	f := registry.Filter{
		Player: c.Query("player"),
		Limit:  c.QueryInt("limit", registry.DefaultListLimit),
	}
	if s := c.Query("state"); s != "" {
		state, err := models.ParseGameState(s)
		if err != nil {
			return badRequest(c, "invalid state", err)
		}
		f.State = &state
	}

	games, err := h.Service.ListGames(c.UserContext(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(games)
}

// Clean handles POST /coinflip/admin/clean.
func (h *CoinFlipHandler) Clean(c *fiber.Ctx) error {
	removed, err := h.Service.StateCleaner(c.UserContext(), caller(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

// Metrics dumps the engine counters as JSON.
func (h *CoinFlipHandler) Metrics(c *fiber.Ctx) error {
	c.Type("json")
	gometrics.WriteJSONOnce(h.Service.Metrics.Registry, c)
	return nil
}
