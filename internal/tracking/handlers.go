package tracking

import (
	"bytes"
	"errors"
	"time"

	"backend-runtrack/internal/gpx"

	"github.com/gofiber/fiber/v2"
)

type sampleRequest struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Acc      *float64 `json:"acc"`
	Accuracy *float64 `json:"accuracy"`
	T        int64    `json:"t"`
}

func (r sampleRequest) toSample() (GeoSample, error) {
	if r.Lat == nil || r.Lng == nil {
		return GeoSample{}, errors.New("lat and lng required")
	}
	if *r.Lat < -90 || *r.Lat > 90 || *r.Lng < -180 || *r.Lng > 180 {
		return GeoSample{}, errors.New("lat/lng out of range")
	}
	s := GeoSample{Lat: *r.Lat, Lng: *r.Lng, Accuracy: r.Acc}
	if s.Accuracy == nil {
		s.Accuracy = r.Accuracy
	}
	if r.T > 0 {
		s.Timestamp = time.UnixMilli(r.T)
	}
	return s, nil
}

func RegisterRoutes(r fiber.Router, tracker *Tracker, source *PushSource, authMiddleware fiber.Handler) {
	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		info, err := tracker.Start(c.UserContext(), ownerFromCtx(c))
		switch {
		case errors.Is(err, ErrAlreadyActive):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case errors.Is(err, ErrNoPositionSource):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(info)
	})

	r.Post("/samples", authMiddleware, func(c *fiber.Ctx) error {
		var reqs []sampleRequest
		body := bytes.TrimSpace(c.Body())
		if len(body) > 0 && body[0] == '[' {
			if err := c.BodyParser(&reqs); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		} else {
			var req sampleRequest
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			reqs = append(reqs, req)
		}

		samples := make([]GeoSample, 0, len(reqs))
		for _, req := range reqs {
			s, err := req.toSample()
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			samples = append(samples, s)
		}

		delivered, stale, err := source.Push(c.UserContext(), samples...)
		if errors.Is(err, ErrNotWatching) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"delivered": delivered, "dropped_stale": stale})
	})

	r.Post("/source-errors", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Message string `json:"message"`
		}
		if err := c.BodyParser(&body); err != nil || body.Message == "" {
			return fiber.NewError(fiber.StatusBadRequest, "message required")
		}
		err := source.Fail(c.UserContext(), errors.New(body.Message))
		if errors.Is(err, ErrNotWatching) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		outcome, err := tracker.Stop(c.UserContext(), ownerFromCtx(c).UserID)
		switch {
		case errors.Is(err, ErrNotActive):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case errors.Is(err, ErrNotOwner):
			return fiber.NewError(fiber.StatusForbidden, err.Error())
		case errors.Is(err, ErrInsufficientSamples):
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrPersistence):
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(outcome)
	})

	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(tracker.Snapshot())
	})

	r.Get("/stats", func(c *fiber.Ctx) error {
		stats, err := tracker.Recompute()
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.JSON(stats)
	})

	r.Get("/track", func(c *fiber.Ctx) error {
		id, points := tracker.Track()
		if points == nil {
			points = []GeoSample{}
		}
		return c.JSON(fiber.Map{"session_id": id, "points": points})
	})

	r.Get("/track.gpx", func(c *fiber.Ctx) error {
		id, points := tracker.Track()
		if id == "" {
			return fiber.NewError(fiber.StatusNotFound, ErrNotActive.Error())
		}
		var start time.Time
		if snap := tracker.Snapshot(); snap.StartTime != nil {
			start = *snap.StartTime
		}
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="run-`+id+`.gpx"`)
		return gpx.Encode(c.Response().BodyWriter(), gpx.NewRun("run "+id, start, toGPXPoints(points)))
	})
}

func toGPXPoints(points []GeoSample) []gpx.Point {
	out := make([]gpx.Point, len(points))
	for i, p := range points {
		out[i] = gpx.Point{Lat: p.Lat, Lon: p.Lng}
		if !p.Timestamp.IsZero() {
			ts := p.Timestamp.UTC()
			out[i].Time = &ts
		}
	}
	return out
}

func ownerFromCtx(c *fiber.Ctx) Owner {
	userID, _ := c.Locals("user_id").(string)
	token, _ := c.Locals("token").(string)
	return Owner{UserID: userID, Token: token}
}
