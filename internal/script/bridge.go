package script

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/luaidle/luaidle/internal/registry"
)

// GlobalName is the Lua global holding the host object
const GlobalName = "IdleNotifier"

// MaxTimeoutSeconds is the largest timeout whose millisecond value fits the
// protocol's uint32 field.
const MaxTimeoutSeconds = math.MaxUint32 / 1000

var (
	ErrCallbackNotFound = errors.New("script: callback not found")
	ErrNotLoaded        = errors.New("script: no script loaded")
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// globals stripped from the sandbox
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// Notifier creates the protocol notification behind IdleNotifier:register
type Notifier interface {
	RegisterNotification(timeout time.Duration, callbackName string) (registry.Handle, error)
}

// Bridge owns one sandboxed Lua state. It is not safe for concurrent use;
// every method must be called from the dispatch goroutine.
type Bridge struct {
	notifier        Notifier
	callbackTimeout time.Duration
	logger          *zap.Logger

	state *lua.LState
	path  string
}

// New creates a bridge. A zero callbackTimeout lets callbacks run unbounded,
// so a callback that never returns stalls the dispatch loop.
func New(notifier Notifier, callbackTimeout time.Duration, logger *zap.Logger) *Bridge {
	return &Bridge{
		notifier:        notifier,
		callbackTimeout: callbackTimeout,
		logger:          logger.Named("script"),
	}
}

// Load executes the script at path in a fresh state, replacing any
// previously loaded one.
func (b *Bridge) Load(path string) error {
	L, err := b.newState()
	if err != nil {
		return err
	}
	if err := L.DoFile(path); err != nil {
		L.Close()
		return errors.Wrapf(err, "failed to load script %s", path)
	}
	b.swap(L, path)
	return nil
}

// LoadString executes src in a fresh state, replacing any previously loaded one
func (b *Bridge) LoadString(name, src string) error {
	L, err := b.newState()
	if err != nil {
		return err
	}
	if err := L.DoString(src); err != nil {
		L.Close()
		return errors.Wrapf(err, "failed to load script %s", name)
	}
	b.swap(L, name)
	return nil
}

func (b *Bridge) swap(L *lua.LState, path string) {
	if b.state != nil {
		b.state.Close()
	}
	b.state = L
	b.path = path
	b.logger.Info("Script loaded", zap.String("path", path))
}

// Path returns the source of the loaded script
func (b *Bridge) Path() string {
	return b.path
}

// HasFunction reports whether name is a global function of the loaded script
func (b *Bridge) HasFunction(name string) bool {
	if b.state == nil {
		return false
	}
	_, ok := b.state.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Call invokes the global function name with a single string argument
func (b *Bridge) Call(name, arg string) error {
	if b.state == nil {
		return ErrNotLoaded
	}

	fn, ok := b.state.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return errors.Wrapf(ErrCallbackNotFound, "%s", name)
	}

	if b.callbackTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), b.callbackTimeout)
		defer cancel()
		b.state.SetContext(ctx)
		defer b.state.RemoveContext()
	}

	err := b.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LString(arg))
	if err != nil {
		return errors.Wrapf(err, "callback %s(%q) failed", name, arg)
	}
	return nil
}

// Close releases the Lua state
func (b *Bridge) Close() {
	if b.state != nil {
		b.state.Close()
		b.state = nil
	}
}

func (b *Bridge) newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	libs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, errors.Wrapf(err, "failed to open lua library %q", lib.name)
		}
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(b.luaPrint))

	mt := L.NewTypeMetatable(GlobalName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register": b.luaRegister,
	}))
	L.SetField(mt, "__metatable", lua.LString("locked"))

	ud := L.NewUserData()
	L.SetMetatable(ud, mt)
	L.SetGlobal(GlobalName, ud)

	return L, nil
}

// luaRegister implements IdleNotifier:register(timeout_seconds, callback_name)
func (b *Bridge) luaRegister(L *lua.LState) int {
	L.CheckUserData(1)

	secs := float64(L.CheckNumber(2))
	if secs != math.Trunc(secs) || secs < 0 || secs > MaxTimeoutSeconds {
		L.ArgError(2, fmt.Sprintf("timeout must be an integer number of seconds in [0, %d]", MaxTimeoutSeconds))
		return 0
	}

	name := L.CheckString(3)
	if !identifier.MatchString(name) {
		L.ArgError(3, fmt.Sprintf("callback name %q is not a valid identifier", name))
		return 0
	}

	timeout := time.Duration(secs) * time.Second
	h, err := b.notifier.RegisterNotification(timeout, name)
	if err != nil {
		L.RaiseError("%s:register(%d, %q): %v", GlobalName, int64(secs), name, err)
		return 0
	}

	b.logger.Debug("Notification registered",
		zap.String("handle", h.String()),
		zap.String("callback", name),
		zap.Duration("timeout", timeout))
	return 0
}

func (b *Bridge) luaPrint(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	b.logger.Info(strings.Join(parts, "\t"), zap.String("source", "lua"))
	return 0
}
