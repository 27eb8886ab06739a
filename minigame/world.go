// minigame/world.go - Deterministic play area generation
package minigame

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand"
)

// Play area dimensions in world units.
const (
	WorldWidth  = 160.0
	WorldHeight = 100.0
)

const (
	minObstacles = 3
	maxObstacles = 6
	numSafeZones = 2
	safeZoneR    = 8.0
)

// Obstacle is a static convex polygon boats and swans collide with.
type Obstacle struct {
	Points []Vec2 `json:"points"`
}

// SafeZone is a circular area where boats cannot be tagged.
type SafeZone struct {
	Center Vec2    `json:"center"`
	Radius float64 `json:"radius"`
}

// World is the static layout generated once at minigame start. It is fully
// determined by the seed so every client and every replay sees the same lake.
type World struct {
	Width     float64    `json:"width"`
	Height    float64    `json:"height"`
	Obstacles []Obstacle `json:"obstacles"`
	SafeZones []SafeZone `json:"safe_zones"`
}

// seedInt64 folds an arbitrary seed string (plus a salt) into an int64 for
// math/rand.
func seedInt64(seed string, salt uint64) int64 {
	h := sha256.Sum256([]byte(seed))
	return int64(binary.BigEndian.Uint64(h[:8]) ^ salt)
}

// GenerateWorld lays out obstacles and safe zones from the seed. Obstacles
// are convex blobs kept away from the edges and from each other so spawns
// are never walled in.
func GenerateWorld(seed string) *World {
	rng := rand.New(rand.NewSource(seedInt64(seed, 0)))

	w := &World{Width: WorldWidth, Height: WorldHeight}

	count := minObstacles + rng.Intn(maxObstacles-minObstacles+1)
	for i := 0; i < count; i++ {
		center := Vec2{
			X: 25 + rng.Float64()*(WorldWidth-50),
			Y: 20 + rng.Float64()*(WorldHeight-40),
		}
		if tooClose(w, center, 22) {
			continue
		}
		w.Obstacles = append(w.Obstacles, blobAt(rng, center))
	}

	for i := 0; i < numSafeZones; i++ {
		center := Vec2{
			X: 15 + rng.Float64()*(WorldWidth-30),
			Y: 12 + rng.Float64()*(WorldHeight-24),
		}
		if tooClose(w, center, safeZoneR+8) {
			center = Vec2{X: 15, Y: 12 + float64(i)*(WorldHeight-24)}
		}
		w.SafeZones = append(w.SafeZones, SafeZone{Center: center, Radius: safeZoneR})
	}

	return w
}

// blobAt builds a convex polygon of 5-7 vertices around a center.
func blobAt(rng *rand.Rand, center Vec2) Obstacle {
	n := 5 + rng.Intn(3)
	base := 5 + rng.Float64()*5
	pts := make([]Vec2, 0, n)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		r := base * (0.8 + rng.Float64()*0.4)
		pts = append(pts, center.Add(Heading(angle).Scale(r)))
	}
	return Obstacle{Points: pts}
}

func tooClose(w *World, p Vec2, dist float64) bool {
	for _, o := range w.Obstacles {
		for _, v := range o.Points {
			if p.Dist(v) < dist {
				return true
			}
		}
	}
	return false
}

// JSON encodes the world for the start broadcast.
func (w *World) JSON() json.RawMessage {
	data, _ := json.Marshal(w)
	return data
}

// InSafeZone reports whether the point lies inside any safe zone.
func (w *World) InSafeZone(p Vec2) bool {
	for _, z := range w.SafeZones {
		if p.Dist(z.Center) <= z.Radius {
			return true
		}
	}
	return false
}

// ResolveCollision pushes a circle of the given radius out of the world edges
// and out of any obstacle it penetrates, returning the corrected position and
// whether a collision occurred.
func (w *World) ResolveCollision(p Vec2, radius float64) (Vec2, bool) {
	hit := false

	if p.X < radius {
		p.X, hit = radius, true
	}
	if p.X > w.Width-radius {
		p.X, hit = w.Width-radius, true
	}
	if p.Y < radius {
		p.Y, hit = radius, true
	}
	if p.Y > w.Height-radius {
		p.Y, hit = w.Height-radius, true
	}

	for _, o := range w.Obstacles {
		if corrected, collided := pushOut(p, radius, o); collided {
			p, hit = corrected, true
		}
	}
	return p, hit
}

// pushOut tests the circle against each polygon edge via the closest-vertex /
// closest-edge-point distance and moves the circle along the shortest escape
// normal when penetrating.
func pushOut(p Vec2, radius float64, o Obstacle) (Vec2, bool) {
	n := len(o.Points)
	if n < 3 {
		return p, false
	}

	nearest := o.Points[0]
	best := p.Dist(nearest)
	for i := 0; i < n; i++ {
		a := o.Points[i]
		b := o.Points[(i+1)%n]
		q := closestOnSegment(p, a, b)
		if d := p.Dist(q); d < best {
			best, nearest = d, q
		}
	}

	inside := pointInPolygon(p, o.Points)
	if !inside && best >= radius {
		return p, false
	}

	// When the center is inside, the vector to the nearest boundary point
	// aims into the polygon; flip it so the escape is outward.
	away := p.Sub(nearest).Norm()
	if inside {
		away = away.Scale(-1)
	}
	if away.Len() == 0 {
		away = Vec2{X: 1}
	}
	return nearest.Add(away.Scale(radius)), true
}

func pointInPolygon(p Vec2, pts []Vec2) bool {
	inside := false
	n := len(pts)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := pts[i], pts[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}
