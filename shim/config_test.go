package shim_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/How-s-it-going/runthd/shim"
	"github.com/How-s-it-going/runthd/utils"
)

func writeConfig(t *testing.T, bundle string, rootfs string, args []string, env []string) {
	t.Helper()
	config := `{"root":{"path":"` + rootfs + `"},"process":{"args":[`
	for i, a := range args {
		if i > 0 {
			config += ","
		}
		config += `"` + a + `"`
	}
	config += `],"env":[`
	for i, e := range env {
		if i > 0 {
			config += ","
		}
		config += `"` + e + `"`
	}
	config += `]}}`
	utils.AssertNoError(t, os.WriteFile(filepath.Join(bundle, "config.json"), []byte(config), 0644))
}

func TestReadConfig(t *testing.T) {
	bundle := t.TempDir()
	rootfs := filepath.Join(bundle, "rootfs")
	utils.AssertNoError(t, os.Mkdir(rootfs, 0755))
	utils.AssertNoError(t, os.WriteFile(filepath.Join(rootfs, "hello.thd"), []byte("いぬいリゼ"), 0644))
	writeConfig(t, bundle, rootfs, []string{"hello.thd"}, []string{"HOME=/root", "PATH=/usr/bin:/bin"})

	config, err := shim.ReadConfig(bundle)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, config.Root, rootfs)
	utils.AssertEqual(t, config.Entrypoint, "hello.thd")
	utils.AssertEqual(t, config.FullPath(), filepath.Join(rootfs, "hello.thd"))
	utils.AssertEqualArrays(t, config.Path, []string{"/usr/bin", "/bin"})
}

func TestReadConfig_MissingConfig(t *testing.T) {
	bundle := t.TempDir()
	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}

func TestReadConfig_BadExtension(t *testing.T) {
	bundle := t.TempDir()
	rootfs := filepath.Join(bundle, "rootfs")
	utils.AssertNoError(t, os.Mkdir(rootfs, 0755))
	utils.AssertNoError(t, os.WriteFile(filepath.Join(rootfs, "hello.sh"), []byte("echo hi"), 0644))
	writeConfig(t, bundle, rootfs, []string{"hello.sh"}, nil)

	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}

func TestReadConfig_MissingScript(t *testing.T) {
	bundle := t.TempDir()
	rootfs := filepath.Join(bundle, "rootfs")
	utils.AssertNoError(t, os.Mkdir(rootfs, 0755))
	writeConfig(t, bundle, rootfs, []string{"missing.thd"}, nil)

	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}

func TestReadConfig_TooManyArgs(t *testing.T) {
	bundle := t.TempDir()
	rootfs := filepath.Join(bundle, "rootfs")
	utils.AssertNoError(t, os.Mkdir(rootfs, 0755))
	utils.AssertNoError(t, os.WriteFile(filepath.Join(rootfs, "hello.thd"), []byte("いぬいリゼ"), 0644))
	writeConfig(t, bundle, rootfs, []string{"hello.thd", "extra"}, nil)

	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}
