package billing

import (
	"context"
	"time"
)

// Portal 生成支付平台托管的自助管理页面地址
type Portal struct {
	resolver  CustomerResolver
	processor Processor
	returnURL string
	timeout   time.Duration
}

func NewPortal(resolver CustomerResolver, processor Processor, returnURL string, timeout time.Duration) *Portal {
	return &Portal{resolver: resolver, processor: processor, returnURL: returnURL, timeout: timeout}
}

// URL 没有部分结果：解析失败或超时都直接返回错误
func (p *Portal) URL(ctx context.Context, userID, emailHint string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	customerID, err := p.resolver.Resolve(ctx, userID, emailHint)
	if err != nil {
		return "", err
	}
	return p.processor.CreatePortalSession(ctx, customerID, p.returnURL)
}
