// Package geom contains the coordinate-frame conversions, camera
// unprojection and time-weighted aggregation used to turn per-step depth and
// mask observations into object position estimates.
//
// Conventions follow the simulator: +Y is up, yaw is measured in degrees
// about +Y, and an agent with yaw 0 faces +Z. Camera horizon is positive when
// the camera pitches down.
package geom
