package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanAllowsCleanCode(t *testing.T) {
	assert.Equal(t, "", scan("print(1 + 1)\nresult = sum(range(10))\n"))
}

func TestScanRejectsShellInvocation(t *testing.T) {
	assert.NotEqual(t, "", scan("import os\nos.system('rm -rf /')\n"))
	assert.NotEqual(t, "", scan("import subprocess\nsubprocess.run(['ls'])\n"))
	assert.NotEqual(t, "", scan("x = `whoami`"))
}

func TestScanRejectsNetworkAccess(t *testing.T) {
	assert.NotEqual(t, "", scan("import requests\nrequests.get('http://evil.example/')\n"))
	assert.NotEqual(t, "", scan("fetch('http://evil.example/')"))
}

func TestScanRejectsFilesystemEscapeOutsideWorkspace(t *testing.T) {
	assert.NotEqual(t, "", scan(`open("/etc/passwd", "w")`))
}

func TestScanAllowsFilesystemWritesInsideWorkspace(t *testing.T) {
	assert.Equal(t, "", scan(`open("/workspace/output.txt", "w")`))
}

func TestScanRejectsNativeExtensionLoading(t *testing.T) {
	assert.NotEqual(t, "", scan("import ctypes\nctypes.CDLL('libc.so.6')\n"))
}

func TestScanRejectsDynamicEval(t *testing.T) {
	assert.NotEqual(t, "", scan("eval(user_input)"))
}
