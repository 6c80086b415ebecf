// Package cleanup provides scoped rollback of partially completed setup.
//
//	var cu cleanup.Cleanup
//	if err := stepOne(); err != nil {
//		return err
//	}
//	cu.Add(undoStepOne)
//	if err := stepTwo(); err != nil {
//		cu.Clean()
//		return err
//	}
//
// Clean runs the registered undo functions in reverse order.
package cleanup

// Cleanup holds undo functions for the steps that have succeeded so far.
type Cleanup struct {
	cleaners []func()
}

// Add registers f to run on Clean. Undo functions run last in, first out.
func (c *Cleanup) Add(f func()) {
	c.cleaners = append(c.cleaners, f)
}

// Clean runs every registered undo function and forgets them.
func (c *Cleanup) Clean() {
	for i := len(c.cleaners) - 1; i >= 0; i-- {
		c.cleaners[i]()
	}
	c.cleaners = nil
}
