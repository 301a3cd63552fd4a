// Package domain models agricultural parcels and the hazard signals that
// affect them.
//
// # Change detection
//
// Damage assessment compares two Sentinel-1 SAR composites of the same
// parcel. Radar backscatter rises sharply over newly flooded or disturbed
// ground, so a per-pixel ratio of after/before above a calibrated threshold
// (1.3 by default) marks a pixel as changed. Area is aggregated remotely
// over the changed mask and over the whole clipped parcel at 10 m nominal
// scale; only the two aggregate sums ever cross the wire, never raster data.
//
// # Proximity rules
//
// An active alert is relevant to a parcel when the great-circle distance
// between the alert location and the parcel center is within the alert's
// own radius (10 km when unset) or within the extended proximity floor
// (20 km by default). The floor surfaces hazards that sit just outside a
// small declared radius. A match is flagged WithinRadius only when the
// distance is inside the alert's own radius.
//
// # Degraded results
//
// Collaborator outages degrade rather than fail: an analysis with no
// imagery for a period carries a populated Err field instead of returning
// an error, and hotspot queries fall back to a fixed placeholder set tagged
// Degraded. Callers distinguish "really empty" from "service unavailable"
// by checking those fields.
package domain
