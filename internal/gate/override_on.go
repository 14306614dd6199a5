//go:build gateoverride

package gate

// overrideCompiled 仅用于排障构建：go build -tags gateoverride
const overrideCompiled = true
