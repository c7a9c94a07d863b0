/*
policy.go - Built-in points policies

PURPOSE:
  The actual award rates are owned by a rules engine outside this service;
  the engine only sees a PointsPolicy function. This file provides the
  table-driven policy the server binary wires in, with rates taken from
  configuration rather than hardcoded product decisions.

SHAPE:
  award = floor(distance_km) * rate[zone] + completion bonus

  Strength work is usually short on distance, so its rate tends to be set
  high relative to base mileage; that is a configuration concern, not ours.
*/
package workout

// TablePolicy returns a PointsPolicy computing
// floor(distanceKm) * perKm[zone] + bonus. Zones missing from the table
// award only the bonus.
func TablePolicy(perKm map[Zone]int64, bonus int64) PointsPolicy {
	return func(w Workout) int64 {
		km := w.DistanceKm.IntPart()
		return km*perKm[w.Zone] + bonus
	}
}

// FixedPolicy awards the same amount for every approved workout.
// Useful in tests and as a conservative fallback.
func FixedPolicy(points int64) PointsPolicy {
	return func(Workout) int64 { return points }
}
