package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nczempin/minihttpd/flatjson"
	"github.com/nczempin/minihttpd/protocol"
	"github.com/nczempin/minihttpd/router"
	"github.com/nczempin/minihttpd/store"
)

const usersPrefix = "/api/users/"

// ListUsers returns every user as a JSON array. There is no pagination.
func (h *Handlers) ListUsers(ctx context.Context, req *protocol.Request) *protocol.Response {
	rows, err := h.users.List(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("list users failed")
		return jsonError(500, "Database query failed.")
	}

	objs := make([]map[string]string, len(rows))
	for i, row := range rows {
		objs[i] = row
	}
	return protocol.JSON(200, string(flatjson.MarshalArray(objs)))
}

// CreateUser inserts the user described by the JSON body and answers with
// the stored record, id included.
func (h *Handlers) CreateUser(ctx context.Context, req *protocol.Request) *protocol.Response {
	fields, err := flatjson.Parse(req.Body)
	if err != nil {
		return jsonError(400, "Invalid JSON format or input: "+err.Error())
	}

	name, email := fields["name"], fields["email"]
	if name == "" || !strings.Contains(email, "@") {
		return jsonError(400, "Name and a valid email are required.")
	}

	id, err := h.users.Create(ctx, name, email)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("email", email).Msg("insert user failed")
		if errors.Is(err, store.ErrConstraint) {
			return jsonError(500, "Database insertion failed (Email might be duplicate, UNIQUE constraint violation).")
		}
		return jsonError(500, "Database insertion failed.")
	}

	zerolog.Ctx(ctx).Info().Int64("id", id).Msg("user created")
	return jsonMessage(201, map[string]string{
		"id":    strconv.FormatInt(id, 10),
		"name":  name,
		"email": email,
	})
}

// UpdateUser changes the supplied fields of the user named by the trailing
// path segment.
func (h *Handlers) UpdateUser(ctx context.Context, req *protocol.Request) *protocol.Response {
	idText := router.TrailingSegment(req.Path, usersPrefix)
	if idText == "" {
		return jsonError(400, "User ID is missing from URL.")
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || id <= 0 {
		return jsonError(400, "User ID must be a positive number.")
	}

	fields, err := flatjson.Parse(req.Body)
	if err != nil {
		return jsonError(400, "Invalid JSON format or input: "+err.Error())
	}
	_, hasName := fields["name"]
	_, hasEmail := fields["email"]
	if !hasName && !hasEmail {
		return jsonError(400, "Require 'name' or 'email' field to update.")
	}

	affected, err := h.users.Update(ctx, id, fields)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("id", id).Msg("update user failed")
		if errors.Is(err, store.ErrConstraint) {
			return jsonError(500, "Database update failed (Email might be duplicate, UNIQUE constraint violation).")
		}
		return jsonError(500, "Database update failed.")
	}
	if affected == 0 {
		return jsonError(404, "User not found.")
	}

	zerolog.Ctx(ctx).Info().Int64("id", id).Msg("user updated")
	return jsonMessage(200, map[string]string{"message": "User " + idText + " updated successfully."})
}
