package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrLockAcquisition 关机裁决锁拿不到或在持有期间被外部删除。这是协调器
// 唯一向外传播的错误，同时触发 crash 回调。
// ErrLockAcquisition means the shutdown arbitration lock could not be taken,
// or was externally deleted while held. It is the only error the coordinator
// propagates, and it also fires the crash callback.
var ErrLockAcquisition = errors.New("shutdown lock acquisition failed")

const (
	lockRetries   = 50
	lockRetryWait = 10 * time.Millisecond
)

// Coordinator 多个 CLI 进程共享一个引擎时的生命周期仲裁者：启动时注册
// 自己并确保引擎在跑，退出时只有最后一个 CLI 负责关引擎，期间由看门狗
// 守护引擎存活。
// Coordinator arbitrates the lifecycle of one engine shared by several CLI
// processes: it registers itself and ensures the engine at startup, lets only
// the last exiting CLI shut the engine down, and guards engine liveness with
// a watchdog in between.
type Coordinator struct {
	registry *Registry
	spawner  *Spawner
	lockPath string
	interval time.Duration
	log      zerolog.Logger

	pid          int
	terminal     string
	cron         *cron.Cron
	shuttingDown atomic.Bool
	onCrash      func(error)
}

func NewCoordinator(registry *Registry, spawner *Spawner, lockPath string, watchdogInterval time.Duration, log zerolog.Logger, onCrash func(error)) *Coordinator {
	if watchdogInterval <= 0 {
		watchdogInterval = 15 * time.Second
	}
	if onCrash == nil {
		onCrash = func(error) {}
	}
	return &Coordinator{
		registry: registry,
		spawner:  spawner,
		lockPath: lockPath,
		interval: watchdogInterval,
		log:      log,
		pid:      os.Getpid(),
		terminal: os.Getenv("TERM"),
		onCrash:  onCrash,
	}
}

// Startup 注册本进程、确保引擎在跑并启动看门狗。注册与拉起失败只记日志，
// CLI 照常启动。
// Startup registers this process, ensures the engine is up, and starts the
// watchdog. Registration and spawn failures are logged only; the CLI starts
// regardless.
func (c *Coordinator) Startup(ctx context.Context) {
	if err := c.registry.Register(c.pid, c.terminal); err != nil {
		c.log.Warn().Err(err).Msg("cli registration failed")
	}
	if err := c.spawner.EnsureEngine(ctx); err != nil {
		c.log.Warn().Err(err).Msg("engine not available at startup")
	}
	c.startWatchdog()
}

func (c *Coordinator) startWatchdog() {
	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", c.interval)
	if _, err := c.cron.AddFunc(spec, c.watchdogTick); err != nil {
		c.log.Warn().Err(err).Str("spec", spec).Msg("watchdog not scheduled")
		return
	}
	c.cron.Start()
}

// watchdogTick 引擎不健康时，拿裁决锁后再次确认（别的进程的看门狗可能
// 已经把它拉起来了），仍然不健康才补拉。全程关停标志抑制看门狗，避免
// 有意关停时被复活。
// watchdogTick: when the engine looks unhealthy, take the arbitration lock
// and re-check (a sibling watchdog in another process may already have
// restarted it) before spawning a replacement. The shutting-down flag
// suppresses the watchdog entirely so intentional teardown is never undone.
func (c *Coordinator) watchdogTick() {
	if c.shuttingDown.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	if c.spawner.Healthy(ctx) {
		return
	}
	err := c.withShutdownLock(func() error {
		if c.shuttingDown.Load() {
			return nil
		}
		if c.spawner.Healthy(ctx) {
			return nil
		}
		c.log.Warn().Msg("engine down, watchdog restarting it")
		if err := c.spawner.EnsureEngine(ctx); err != nil {
			c.log.Warn().Err(err).Msg("watchdog restart failed")
		}
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Msg("watchdog could not arbitrate")
		c.onCrash(err)
	}
}

// ShutdownIfLastCLI 注销自己，然后在裁决锁内统计仍存活的 CLI，数量为零才
// 关引擎。没有这把锁，两个同时退出的 CLI 可能各自看到对方仍在而都不关，
// 或都看到零而重复关。
// ShutdownIfLastCLI deregisters this process, then under the arbitration lock
// counts the remaining live CLIs and shuts the engine down only if the count
// is zero. Without the lock, two CLIs exiting together could each see the
// other still present and neither shut down, or both see zero and shut down
// twice.
func (c *Coordinator) ShutdownIfLastCLI(ctx context.Context) error {
	c.shuttingDown.Store(true)
	if c.cron != nil {
		c.cron.Stop()
	}

	err := c.withShutdownLock(func() error {
		if err := c.registry.Deregister(c.pid); err != nil {
			c.log.Warn().Err(err).Msg("deregistration failed")
		}
		if remaining := c.registry.CountActiveCLIs(); remaining > 0 {
			c.log.Debug().Int("remaining", remaining).Msg("other CLIs still active, engine stays up")
			return nil
		}
		c.log.Info().Msg("last CLI exiting, shutting engine down")
		if err := c.spawner.Shutdown(ctx); err != nil {
			c.log.Warn().Err(err).Msg("engine shutdown request failed")
		}
		return nil
	})
	if err != nil {
		c.onCrash(err)
		return err
	}
	return nil
}

// ShuttingDown reports whether intentional teardown has begun.
func (c *Coordinator) ShuttingDown() bool {
	return c.shuttingDown.Load()
}

// withShutdownLock 以重试方式拿裁决锁，持有期间锁文件被外部删除同样按
// 获取失败处理；无论成功失败，锁都在延迟路径里保证释放。
// withShutdownLock takes the arbitration lock with retries; the lock file
// being externally deleted while held is treated the same as an acquisition
// failure. The lock is released on a deferred path in every outcome.
func (c *Coordinator) withShutdownLock(fn func() error) error {
	lock := flock.New(c.lockPath)

	var locked bool
	var err error
	for i := 0; i < lockRetries; i++ {
		locked, err = lock.TryLock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLockAcquisition, err)
		}
		if locked {
			break
		}
		time.Sleep(lockRetryWait)
	}
	if !locked {
		return fmt.Errorf("%w: held by another process", ErrLockAcquisition)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			c.log.Debug().Err(uerr).Str("path", c.lockPath).Msg("shutdown lock release failed")
		}
	}()

	fnErr := fn()

	// A lock whose file vanished no longer excludes anyone.
	if _, serr := os.Stat(c.lockPath); serr != nil {
		return fmt.Errorf("%w: lock file disappeared while held", ErrLockAcquisition)
	}
	return fnErr
}
