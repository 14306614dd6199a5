//go:build !gateoverride

package gate

// overrideCompiled 默认构建不包含强制放行
const overrideCompiled = false
