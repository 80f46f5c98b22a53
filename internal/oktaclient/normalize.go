package oktaclient

// metadataOnlyKeys are response keys that never carry entity data on their
// own — a response containing only these is treated as an empty page.
var metadataOnlyKeys = map[string]bool{
	"_links": true, "meta": true, "metadata": true,
	"totalCount": true, "totalResults": true, "count": true,
	"size": true, "limit": true, "after": true, "cursor": true,
}

// wrapperKeys are checked in order of frequency across Okta's various API
// families before falling back to dynamic detection.
var wrapperKeys = []string{"value", "results", "items", "data"}

// resourceIndicators are field names that suggest a dict is a single
// resource rather than a collection wrapper.
var resourceIndicators = []string{"id", "okta_id", "userId", "groupId", "appId", "name", "login", "email"}

// normalizeResponse reduces the handful of shapes Okta's various API
// families return into a single []any of entity records. A response that
// cannot be classified as a collection is returned unchanged so the caller
// can decide what to do with it.
func normalizeResponse(data any) any {
	if data == nil {
		return []any{}
	}

	if list, ok := data.([]any); ok {
		return list
	}

	obj, ok := data.(map[string]any)
	if !ok {
		return data
	}

	for _, key := range wrapperKeys {
		if v, present := obj[key]; present {
			if list, ok := v.([]any); ok {
				return list
			}
		}
	}

	if embedded, ok := obj["_embedded"].(map[string]any); ok {
		for _, v := range embedded {
			if list, ok := v.([]any); ok {
				return list
			}
		}
	}

	for key, v := range obj {
		if metadataOnlyKeys[key] {
			continue
		}
		if list, ok := v.([]any); ok && len(list) > 0 {
			return list
		}
	}

	for _, indicator := range resourceIndicators {
		if _, present := obj[indicator]; present {
			return []any{obj}
		}
	}

	allMetadata := true
	for key := range obj {
		if !metadataOnlyKeys[key] {
			allMetadata = false
			break
		}
	}
	if allMetadata {
		return []any{}
	}

	return data
}
