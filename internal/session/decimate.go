package session

// decimator keeps one frame in every n. The first kept frame is the n-th read.
type decimator struct {
	n       int64
	counter int64
}

func newDecimator(n int) *decimator {
	if n < 1 {
		n = 1
	}
	return &decimator{n: int64(n)}
}

// keep counts one read frame and reports whether it should be transcoded.
func (d *decimator) keep() bool {
	d.counter++
	return d.counter%d.n == 0
}
