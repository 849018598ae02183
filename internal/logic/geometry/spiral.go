package geometry

// SpiralPath returns the unit stage moves of a square spiral with the
// given number of rings. Ring i (0-based) runs i+1 steps along y then
// i+1 along x, toward -y/-x on even rings and +y/+x on odd ones. Taking a
// frame before the first move and after every move covers
// 1 + rings·(rings+1) positions.
func SpiralPath(rings int) []Delta {
	var path []Delta
	for i := 0; i < rings; i++ {
		sign := -1
		if i%2 == 1 {
			sign = 1
		}
		for j := 0; j <= i; j++ {
			path = append(path, Delta{DY: sign})
		}
		for j := 0; j <= i; j++ {
			path = append(path, Delta{DX: sign})
		}
	}
	return path
}

// Sum returns the net displacement of a path.
func Sum(path []Delta) Delta {
	var total Delta
	for _, d := range path {
		total = total.Add(d)
	}
	return total
}
