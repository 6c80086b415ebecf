// Package session drives the guest kernel through its lifecycle: boot,
// device attach, mount and entering the mounted tree, and the reverse
// teardown. A step that fails undoes every step completed before it.
package session

import (
	"fmt"

	"sandfs/internal/cleanup"
	"sandfs/internal/config"
	"sandfs/internal/kernel"
	"sandfs/internal/logging"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

var (
	logger = logging.GetLogger().WithPrefix("session")
)

// State is the lifecycle state of a Session.
type State int

// Lifecycle states.
const (
	Uninitialized State = iota
	Booted
	DiskAttached
	Mounted
	Unmounting
	Halted
)

var stateNames = map[State]string{
	Uninitialized: "UNINITIALIZED",
	Booted:        "BOOTED",
	DiskAttached:  "DISK_ATTACHED",
	Mounted:       "MOUNTED",
	Unmounting:    "UNMOUNTING",
	Halted:        "HALTED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// EnterMode selects how the session moves into the mounted tree.
type EnterMode int

const (
	// EnterChroot makes the mount point the guest root.
	EnterChroot EnterMode = iota
	// EnterChdir makes the mount point the guest working directory.
	EnterChdir
)

// Device is a block device that can be registered with a guest kernel.
type Device interface {
	Register(k kernel.Kernel) (kernel.DiskID, error)
	Unregister(k kernel.Kernel) error
}

// Options describe the mount a Session performs.
type Options struct {
	MemoryMB  int
	Partition int
	FSType    string
	MountOpts string
	ReadOnly  bool
	Enter     EnterMode
}

// Session owns one guest kernel and the single filesystem mounted in it.
type Session struct {
	k     kernel.Kernel
	opts  Options
	state State

	dev        Device
	diskID     kernel.DiskID
	mountPoint string
	entered    bool

	// undo holds the rollback of every completed step.
	undo     cleanup.Cleanup
	undoErrs *multierror.Error
}

// OptionsFromConfig takes the mount settings of cfg.
func OptionsFromConfig(cfg *config.Config, enter EnterMode) Options {
	return Options{
		MemoryMB:  cfg.MemoryMB,
		Partition: cfg.Partition,
		FSType:    cfg.FSType,
		MountOpts: cfg.Options,
		ReadOnly:  cfg.ReadOnly,
		Enter:     enter,
	}
}

// New returns a session for k that has not been booted.
func New(k kernel.Kernel, opts Options) *Session {
	return &Session{k: k, opts: opts}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// DiskID returns the identifier of the attached device.
func (s *Session) DiskID() kernel.DiskID {
	return s.diskID
}

// MountPoint returns the guest path the filesystem is mounted at.
func (s *Session) MountPoint() string {
	return s.mountPoint
}

// Syscalls returns the guest operation surface. It is only available while
// the filesystem is mounted.
func (s *Session) Syscalls() (kernel.Syscalls, error) {
	if s.state != Mounted {
		return nil, ErrNotMounted
	}
	return s.k, nil
}

func (s *Session) expect(step Step, want State) error {
	if s.state != want {
		return fmt.Errorf("%w: %s needs %v, session is %v", ErrState, step, want, s.state)
	}
	return nil
}

// addUndo registers the rollback of a completed step. Failures are logged
// and collected; they never stop the remaining rollback.
func (s *Session) addUndo(what string, fn func() error) {
	s.undo.Add(func() {
		if err := fn(); err != nil {
			logger.Warn("Failed to %s: %v", what, err)
			s.undoErrs = multierror.Append(s.undoErrs, fmt.Errorf("%s: %w", what, err))
		}
	})
}

// rollback undoes every completed step and leaves the session halted.
func (s *Session) rollback() error {
	s.undo.Clean()
	s.state = Halted
	err := s.undoErrs.ErrorOrNil()
	s.undoErrs = nil
	return err
}

// fail rolls back and returns err. Rollback failures are only logged.
func (s *Session) fail(err *Error) error {
	logger.Error("%v", err)
	if rbErr := s.rollback(); rbErr != nil {
		logger.Warn("Rollback after %s failure was incomplete: %v", err.Step, rbErr)
	}
	return err
}

// Boot starts the guest kernel.
func (s *Session) Boot() error {
	if err := s.expect(StepBoot, Uninitialized); err != nil {
		return err
	}
	logger.Info("Booting guest kernel with %s of memory",
		humanize.IBytes(uint64(s.opts.MemoryMB)<<20))
	if err := s.k.Start(s.opts.MemoryMB); err != nil {
		return s.fail(newError(StepBoot, err, "with %d MiB", s.opts.MemoryMB))
	}
	s.addUndo("halt kernel", s.k.Halt)
	s.state = Booted
	return nil
}

// Attach registers dev with the guest and returns its disk identifier.
func (s *Session) Attach(dev Device) (kernel.DiskID, error) {
	if err := s.expect(StepAttach, Booted); err != nil {
		return 0, err
	}
	id, err := dev.Register(s.k)
	if err != nil {
		return 0, s.fail(newError(StepAttach, err, ""))
	}
	s.dev, s.diskID = dev, id
	s.addUndo("remove disk", func() error {
		return dev.Unregister(s.k)
	})
	s.state = DiskAttached
	logger.Debug("Attached disk %d", id)
	return id, nil
}

// Mount mounts the configured partition of the attached disk and returns
// the guest mount point.
func (s *Session) Mount() (string, error) {
	if err := s.expect(StepMount, DiskAttached); err != nil {
		return "", err
	}
	var flags uint32
	if s.opts.ReadOnly {
		flags |= kernel.MS_RDONLY
	}
	mnt, err := s.k.MountDev(s.diskID, s.opts.Partition, s.opts.FSType, flags, s.opts.MountOpts)
	if err != nil {
		return "", s.fail(newError(StepMount, err, "%s partition %d of disk %d",
			s.opts.FSType, s.opts.Partition, s.diskID))
	}
	s.mountPoint = mnt
	id, part := s.diskID, s.opts.Partition
	s.addUndo("unmount", func() error {
		return s.k.UmountDev(id, part, 0)
	})
	s.state = Mounted
	logger.Info("Mounted %s at %s", s.opts.FSType, mnt)
	return mnt, nil
}

// Enter moves the guest root or working directory into the mount point.
func (s *Session) Enter() error {
	if err := s.expect(StepEnter, Mounted); err != nil {
		return err
	}
	var err error
	switch s.opts.Enter {
	case EnterChroot:
		if err = s.k.Chroot(s.mountPoint); err == nil {
			err = s.k.Chdir("/")
		}
	default:
		err = s.k.Chdir(s.mountPoint)
	}
	if err != nil {
		return s.fail(newError(StepEnter, err, "%s", s.mountPoint))
	}
	s.entered = true
	return nil
}

// Start runs Boot, Attach, Mount and Enter in order.
func (s *Session) Start(dev Device) error {
	if err := s.Boot(); err != nil {
		return err
	}
	if _, err := s.Attach(dev); err != nil {
		return err
	}
	if _, err := s.Mount(); err != nil {
		return err
	}
	return s.Enter()
}

// Teardown leaves the mount point, unmounts, detaches the device and halts
// the kernel. Every step is attempted; their failures are returned together.
func (s *Session) Teardown() error {
	if s.state == Halted || s.state == Uninitialized {
		return nil
	}
	logger.Info("Tearing down session")
	s.state = Unmounting

	var result *multierror.Error
	if s.entered {
		if err := s.k.Chdir("/"); err != nil {
			logger.Warn("Failed to leave mount point: %v", err)
			result = multierror.Append(result, fmt.Errorf("chdir: %w", err))
		}
		s.entered = false
	}
	if err := s.rollback(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return &Error{Step: StepTeardown, Err: err}
	}
	logger.Info("Guest kernel halted")
	return nil
}
