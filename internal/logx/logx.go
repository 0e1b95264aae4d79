package logx

import (
	"context"

	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	userKey contextKey = iota
	imageKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithUser annotates the logger with the user id if present.
func WithUser(ctx context.Context, userID schema.UserID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if userID != "" {
		if current, ok := ctx.Value(userKey).(schema.UserID); ok && current == userID {
			return log
		}
		log = log.With("user", userID)
	}
	return log
}

// WithUserImage annotates the logger with user and image identifiers.
func WithUserImage(ctx context.Context, userID schema.UserID, imageID schema.ImageID) pslog.Logger {
	log := WithUser(ctx, userID)
	if imageID != "" {
		if current, ok := ctx.Value(imageKey).(schema.ImageID); ok && current == imageID {
			return log
		}
		log = log.With("image", imageID)
	}
	return log
}

// WithImage annotates the logger with record metadata when available.
func WithImage(log pslog.Logger, img schema.Image) pslog.Logger {
	if img.ID != "" {
		log = log.With("image", img.ID)
	}
	if img.Blob != "" {
		log = log.With("blob", img.Blob)
	}
	return log
}

// ContextWithUser stores the user marker on the context for log de-duplication.
func ContextWithUser(ctx context.Context, userID schema.UserID) context.Context {
	if ctx == nil || userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// ContextWithImage stores the image marker on the context for log de-duplication.
func ContextWithImage(ctx context.Context, imageID schema.ImageID) context.Context {
	if ctx == nil || imageID == "" {
		return ctx
	}
	return context.WithValue(ctx, imageKey, imageID)
}

// ContextWithUserLogger attaches the logger and user marker to the context.
func ContextWithUserLogger(ctx context.Context, log pslog.Logger, userID schema.UserID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithUser(ctx, userID)
}

// CopyContextFields copies user/image markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if user, ok := src.Value(userKey).(schema.UserID); ok && user != "" {
		dst = ContextWithUser(dst, user)
	}
	if image, ok := src.Value(imageKey).(schema.ImageID); ok && image != "" {
		dst = ContextWithImage(dst, image)
	}
	return dst
}
