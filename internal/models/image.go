package models

// ImageRef points at one logical photo. Exactly one of Local or URL is set:
// Local is a handle to bytes captured on this device, URL is the resolved
// remote location after a successful upload. Upload replaces Local with URL
// in place, so array order and the default-image index keep their meaning.
type ImageRef struct {
	Local string `json:"local,omitempty"`
	URL   string `json:"url,omitempty"`
}

// IsLocal reports whether the photo still lives only on this device.
func (r ImageRef) IsLocal() bool { return r.Local != "" && r.URL == "" }

// ReplaceLocalRef swaps the image matching localRef for its uploaded URL,
// preserving position. The match is by stored local handle, not by index, so
// a concurrent reorder cannot corrupt an unrelated photo. Returns false when
// no image carries that handle anymore.
func ReplaceLocalRef(images []ImageRef, localRef, url string) bool {
	for i := range images {
		if images[i].Local == localRef && images[i].URL == "" {
			images[i] = ImageRef{URL: url}
			return true
		}
	}
	return false
}

// LocalRefs returns the handles of all images not yet uploaded.
func LocalRefs(images []ImageRef) []string {
	var refs []string
	for _, img := range images {
		if img.IsLocal() {
			refs = append(refs, img.Local)
		}
	}
	return refs
}

func cloneImages(images []ImageRef) []ImageRef {
	if images == nil {
		return nil
	}
	out := make([]ImageRef, len(images))
	copy(out, images)
	return out
}
