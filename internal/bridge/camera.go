package bridge

import (
	"context"
	"fmt"
)

// Camera returns the bridge's camera and selfie view.
func (b *Bridge) Camera() *Camera {
	return &Camera{bridge: b}
}

// Camera wraps getUserMedia on the front camera.
type Camera struct {
	bridge *Bridge
}

func (c *Camera) PermissionGranted() bool {
	return c.bridge.camera.Load()
}

func (c *Camera) RequestPermission(ctx context.Context) (bool, error) {
	_, reply, err := c.bridge.call(ctx, EventCameraAccess, "camera", nil)
	if err != nil {
		return false, fmt.Errorf("request camera permission: %w", err)
	}
	if err := reply.err(); err != nil {
		return false, fmt.Errorf("request camera permission: %w", err)
	}
	c.bridge.camera.Store(reply.Granted)
	return reply.Granted, nil
}

// CaptureSelfie snaps the preview and hands it to the frontend uploader.
func (c *Camera) CaptureSelfie(ctx context.Context, eventID string) error {
	_, reply, err := c.bridge.call(ctx, EventSelfieTake, "selfie", map[string]any{"eventId": eventID})
	if err != nil {
		return fmt.Errorf("capture selfie for %s: %w", eventID, err)
	}
	if err := reply.err(); err != nil {
		return fmt.Errorf("capture selfie for %s: %w", eventID, err)
	}
	return nil
}

// CameraPermissionChanged records a permission change the frontend noticed on its own.
func (b *Bridge) CameraPermissionChanged(granted bool) {
	b.camera.Store(granted)
}
