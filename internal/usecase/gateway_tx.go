package usecase

import (
	"context"
	"errors"

	"hagerbet/internal/domain/model"
	"hagerbet/internal/gateway"
	repo "hagerbet/internal/repository"

	"gorm.io/datatypes"
)

// CBE / TeleBirr の取引行をまとめて扱う
type gatewayTx struct {
	cbe *model.CBETransaction
	tb  *model.TeleBirrTransaction
}

func (t gatewayTx) paymentPK() int64 {
	if t.cbe != nil {
		return t.cbe.PaymentID
	}
	return t.tb.PaymentID
}

func (t gatewayTx) transactionID() string {
	if t.cbe != nil {
		return t.cbe.TransactionID
	}
	return t.tb.TransactionID
}

func (t gatewayTx) status() model.GatewayTxStatus {
	if t.cbe != nil {
		return t.cbe.Status
	}
	return t.tb.Status
}

func (t gatewayTx) update(status model.GatewayTxStatus, response []byte, callback bool) {
	if t.cbe != nil {
		t.cbe.Status = status
		if len(response) > 0 {
			t.cbe.CBEResponse = datatypes.JSON(response)
		}
		if callback {
			t.cbe.CallbackReceived = true
		}
		return
	}
	t.tb.Status = status
	if len(response) > 0 {
		t.tb.TeleBirrResponse = datatypes.JSON(response)
	}
	if callback {
		t.tb.CallbackReceived = true
	}
}

func findGatewayTx(ctx context.Context, r repo.TxRepos, method model.PaymentMethod, transactionID string, lock bool) (gatewayTx, error) {
	var (
		t   gatewayTx
		err error
	)
	switch method {
	case model.PaymentMethodCBE:
		var row model.CBETransaction
		if lock {
			row, err = r.GatewayTransactions().FindCBEByTransactionIDForUpdate(ctx, transactionID)
		} else {
			row, err = r.GatewayTransactions().FindCBEByTransactionID(ctx, transactionID)
		}
		t.cbe = &row
	case model.PaymentMethodTeleBirr:
		var row model.TeleBirrTransaction
		if lock {
			row, err = r.GatewayTransactions().FindTeleBirrByTransactionIDForUpdate(ctx, transactionID)
		} else {
			row, err = r.GatewayTransactions().FindTeleBirrByTransactionID(ctx, transactionID)
		}
		t.tb = &row
	default:
		return gatewayTx{}, NotFoundError("transaction not found")
	}
	if err != nil {
		return gatewayTx{}, notFoundOrDB(err, "transaction not found")
	}
	return t, nil
}

func saveGatewayTx(ctx context.Context, r repo.TxRepos, t gatewayTx) error {
	var err error
	if t.cbe != nil {
		err = r.GatewayTransactions().SaveCBE(ctx, *t.cbe)
	} else {
		err = r.GatewayTransactions().SaveTeleBirr(ctx, *t.tb)
	}
	if err != nil {
		return dbError(err)
	}
	return nil
}

// 非同期で受け付けた支払いの取引行を pending で残す
func createGatewayTx(ctx context.Context, r repo.TxRepos, p model.Payment, rec gateway.TransactionRecord, response []byte) (GatewayTransactionOutput, error) {
	out := GatewayTransactionOutput{
		TransactionID: rec.TransactionID,
		Status:        string(model.GatewayTxPending),
		USSDCode:      rec.USSDCode,
		PaymentURL:    rec.PaymentURL,
		QRCodeURL:     rec.QRCodeURL,
		DeepLink:      rec.DeepLink,
	}

	var err error
	switch p.PaymentMethod {
	case model.PaymentMethodCBE:
		_, err = r.GatewayTransactions().CreateCBE(ctx, model.CBETransaction{
			PaymentID:     p.ID,
			TransactionID: rec.TransactionID,
			MerchantID:    rec.MerchantID,
			TerminalID:    rec.TerminalID,
			InvoiceNumber: rec.InvoiceNumber,
			USSDCode:      rec.USSDCode,
			PaymentURL:    rec.PaymentURL,
			Status:        model.GatewayTxPending,
			CBEResponse:   datatypes.JSON(response),
		})
	case model.PaymentMethodTeleBirr:
		_, err = r.GatewayTransactions().CreateTeleBirr(ctx, model.TeleBirrTransaction{
			PaymentID:        p.ID,
			TransactionID:    rec.TransactionID,
			ShortCode:        rec.ShortCode,
			AppKey:           rec.AppKey,
			USSDCode:         rec.USSDCode,
			QRCodeURL:        rec.QRCodeURL,
			DeepLink:         rec.DeepLink,
			Status:           model.GatewayTxPending,
			TeleBirrResponse: datatypes.JSON(response),
		})
	}
	if err != nil {
		return GatewayTransactionOutput{}, dbError(err)
	}
	return out, nil
}

// webhookの内容から支払いを探す（行ロック付き）。見つからなければ found=false
func matchWebhookPayment(ctx context.Context, r repo.TxRepos, method model.PaymentMethod, res gateway.WebhookResult) (model.Payment, *gatewayTx, bool, error) {
	switch method {
	case model.PaymentMethodCBE, model.PaymentMethodTeleBirr:
		if res.TransactionID == "" {
			return model.Payment{}, nil, false, nil
		}
		t, err := findGatewayTx(ctx, r, method, res.TransactionID, true)
		if IsKind(err, KindNotFound) {
			return model.Payment{}, nil, false, nil
		}
		if err != nil {
			return model.Payment{}, nil, false, err
		}
		p, err := r.Payments().FindByIDForUpdate(ctx, t.paymentPK())
		if errors.Is(err, repo.ErrNotFound) {
			return model.Payment{}, nil, false, nil
		}
		if err != nil {
			return model.Payment{}, nil, false, dbError(err)
		}
		return p, &t, true, nil
	}

	var (
		p   model.Payment
		err error
	)
	if res.PaymentRef != "" {
		p, err = r.Payments().FindByPaymentID(ctx, res.PaymentRef)
	}
	if res.PaymentRef == "" || errors.Is(err, repo.ErrNotFound) {
		if res.TransactionID == "" {
			return model.Payment{}, nil, false, nil
		}
		p, err = r.Payments().FindByGatewayPaymentID(ctx, method, res.TransactionID)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return model.Payment{}, nil, false, nil
	}
	if err != nil {
		return model.Payment{}, nil, false, dbError(err)
	}
	// 別の支払い方法のIDを指していないか
	if p.PaymentMethod != method {
		return model.Payment{}, nil, false, nil
	}

	p, err = r.Payments().FindByIDForUpdate(ctx, p.ID)
	if err != nil {
		return model.Payment{}, nil, false, dbError(err)
	}
	return p, nil, true, nil
}
