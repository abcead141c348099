package ffbuild

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePath resolves only the commands in present; installing adds them.
type fakePath map[string]bool

func (p fakePath) lookPath(name string) (string, error) {
	if p[name] {
		return "/opt/homebrew/bin/" + name, nil
	}
	return "", exec.ErrNotFound
}

func allPresent(reqs []Requirement) fakePath {
	p := fakePath{"brew": true}
	for _, r := range reqs {
		p[r.Command] = true
	}
	return p
}

func TestRequirementsAddMesonOnlyWhenNeeded(t *testing.T) {
	plain := Requirements([]Library{{Name: "a", Kind: KindAutotools}})
	withMeson := Requirements([]Library{{Name: "a", Kind: KindAutotools}, {Name: "d", Kind: KindMeson}})

	has := func(reqs []Requirement, cmd string) bool {
		for _, r := range reqs {
			if r.Command == cmd {
				return true
			}
		}
		return false
	}
	assert.False(t, has(plain, "meson"))
	assert.True(t, has(withMeson, "meson"))
	assert.True(t, has(withMeson, "ninja"))
	assert.True(t, has(plain, "nasm"))
}

func TestEnsureWithoutBrew(t *testing.T) {
	reqs := Requirements(Catalog())
	p := allPresent(reqs)
	delete(p, "brew")
	c := &ToolChecker{Runner: newFakeRunner(), LookPath: p.lookPath}

	err := c.Ensure(reqs)
	require.ErrorIs(t, err, ErrNoPackageManager)
	assert.Contains(t, err.Error(), "Homebrew")
}

func TestEnsureInstallsMissingTools(t *testing.T) {
	reqs := Requirements(Catalog())
	p := allPresent(reqs)
	delete(p, "meson")
	delete(p, "ninja")

	r := newFakeRunner()
	r.hook = func(c recordedCmd) error {
		for _, f := range c.Args[2:] {
			p[f] = true
		}
		return nil
	}
	c := &ToolChecker{Runner: r, LookPath: p.lookPath}

	require.NoError(t, c.Ensure(reqs))
	installs := r.commands()
	require.Len(t, installs, 1)
	assert.Equal(t, []string{"/opt/homebrew/bin/brew", "install", "meson", "ninja"}, installs[0].Args)
}

func TestEnsureNothingMissing(t *testing.T) {
	reqs := Requirements(Catalog())
	r := newFakeRunner()
	c := &ToolChecker{Runner: r, LookPath: allPresent(reqs).lookPath}
	require.NoError(t, c.Ensure(reqs))
	assert.Empty(t, r.commands())
}

func TestEnsureFailsForToolWithoutFormula(t *testing.T) {
	reqs := Requirements(nil)
	p := allPresent(reqs)
	delete(p, "lipo")
	c := &ToolChecker{Runner: newFakeRunner(), LookPath: p.lookPath}

	err := c.Ensure(reqs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xcode-select --install")
}

func TestEnsureReportsBrewFailure(t *testing.T) {
	reqs := Requirements(nil)
	p := allPresent(reqs)
	delete(p, "nasm")
	r := newFakeRunner()
	r.hook = func(recordedCmd) error { return errors.New("exit status 1") }
	c := &ToolChecker{Runner: r, LookPath: p.lookPath}

	err := c.Ensure(reqs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brew install nasm")
}

func TestEnsureMissingMakePointsAtXcode(t *testing.T) {
	reqs := Requirements(nil)
	p := allPresent(reqs)
	delete(p, "make")
	r := newFakeRunner()
	c := &ToolChecker{Runner: r, LookPath: p.lookPath}

	err := c.Ensure(reqs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required tool make not found")
	assert.Contains(t, err.Error(), "xcode-select --install")
	assert.Empty(t, r.commands(), "brew's make installs as gmake")
}
