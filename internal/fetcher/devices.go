package fetcher

import (
	"context"

	"github.com/oktagraph/syncengine/internal/graphmodel"
)

// DeviceRecord bundles a Device node with the OWNS edges to the users
// embedded in its `_embedded.users[]` array.
type DeviceRecord struct {
	Device graphmodel.Device
	Owners []graphmodel.OwnsEdge
}

// FetchDevices retrieves devices with expanded user summaries, deriving
// OWNS edges from each device's embedded user list.
func (f *Fetcher) FetchDevices(ctx context.Context, tenantID string, processor func([]DeviceRecord) error) (int, error) {
	items, err := f.Client.GetCollection(ctx, "/api/v1/devices", queryParams("expand", "userSummary", "limit", "200"), 0)
	if err != nil {
		return 0, err
	}

	records := make([]DeviceRecord, 0, len(items))
	for _, raw := range asMapSlice(items) {
		records = append(records, transformDevice(tenantID, raw))
	}

	if processor != nil {
		if err := processor(records); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// isDiskEncrypted interprets Okta's diskEncryptionType enum ("ALL_INTERNAL_VOLUMES",
// "USER", "NONE"), not a boolean field, so the empty and "NONE" values are the
// only ones that mean unencrypted.
func isDiskEncrypted(diskEncryptionType string) bool {
	return diskEncryptionType != "" && diskEncryptionType != "NONE"
}

func transformDevice(tenantID string, raw map[string]any) DeviceRecord {
	profile := mapField(raw, "profile")
	deviceID := stringField(raw, "id")

	device := graphmodel.Device{
		TenantID:    tenantID,
		OktaID:      deviceID,
		Platform:    stringField(profile, "platform"),
		Model:       stringField(profile, "model"),
		DisplayName: stringField(profile, "displayName"),
		Encrypted:   isDiskEncrypted(stringField(profile, "diskEncryptionType")) || boolField(profile, "secureHardwarePresent"),
	}

	var owners []graphmodel.OwnsEdge
	embedded := mapField(raw, "_embedded")
	if embedded != nil {
		for _, item := range sliceField(embedded, "users") {
			userEntry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			user := mapField(userEntry, "user")
			managementStatus := stringField(userEntry, "managementStatus")
			screenLockType := stringField(userEntry, "screenLockType")
			device.ManagementStatus = managementStatus
			device.ScreenLockType = screenLockType

			owners = append(owners, graphmodel.OwnsEdge{
				TenantID:         tenantID,
				UserID:           stringField(user, "id"),
				DeviceID:         deviceID,
				ManagementStatus: managementStatus,
				ScreenLockType:   screenLockType,
			})
		}
	}

	return DeviceRecord{Device: device, Owners: owners}
}
