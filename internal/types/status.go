package types

import (
	"encoding/json"
	"fmt"
)

// ProgressEpsilon is the tolerance used when comparing fetch progress.
// It equals the single-precision machine epsilon.
const ProgressEpsilon float32 = 1.1920929e-07

// ResourceState is the variant tag of a ResourceFetchStatus.
type ResourceState string

const (
	ResourceRemote   ResourceState = "remote"
	ResourceLocal    ResourceState = "local"
	ResourceFetching ResourceState = "fetching"
)

// ResourceFetchStatus describes the download state of a media resource.
// Progress is meaningful only for ResourceFetching.
type ResourceFetchStatus struct {
	State    ResourceState `json:"state"`
	Progress float32       `json:"progress,omitempty"`
}

// StatusRemote reports a resource that exists remotely with nothing fetched.
func StatusRemote() ResourceFetchStatus {
	return ResourceFetchStatus{State: ResourceRemote}
}

// StatusLocal reports a resource fully available on-device.
func StatusLocal() ResourceFetchStatus {
	return ResourceFetchStatus{State: ResourceLocal}
}

// StatusFetching reports an active fetch. Progress is clamped to [0, 1].
func StatusFetching(progress float32) ResourceFetchStatus {
	return ResourceFetchStatus{State: ResourceFetching, Progress: ClampProgress(progress)}
}

// ClampProgress bounds a progress report to [0, 1]. NaN becomes 0.
func ClampProgress(progress float32) float32 {
	if progress != progress || progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}

// Equal compares statuses, treating fetching progress within
// ProgressEpsilon as equal. Different variants are never equal.
func (s ResourceFetchStatus) Equal(other ResourceFetchStatus) bool {
	switch s.State {
	case ResourceRemote, ResourceLocal:
		return other.State == s.State
	case ResourceFetching:
		if other.State != ResourceFetching {
			return false
		}
		diff := s.Progress - other.Progress
		if diff < 0 {
			diff = -diff
		}
		return diff < ProgressEpsilon
	default:
		return false
	}
}

func (s ResourceFetchStatus) String() string {
	if s.State == ResourceFetching {
		return fmt.Sprintf("fetching(%.2f)", s.Progress)
	}
	return string(s.State)
}

// Valid reports whether the state tag is known.
func (s ResourceFetchStatus) Valid() bool {
	switch s.State {
	case ResourceRemote, ResourceLocal, ResourceFetching:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown variants.
func (s *ResourceFetchStatus) UnmarshalJSON(data []byte) error {
	type raw ResourceFetchStatus
	var value raw
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	status := ResourceFetchStatus(value)
	if !status.Valid() {
		return fmt.Errorf("unknown resource state %q", value.State)
	}
	*s = status
	return nil
}
