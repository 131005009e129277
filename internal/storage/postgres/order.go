package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/mothership-commerce/internal/domain/discount"
	"github.com/xenking/mothership-commerce/internal/domain/order"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, status, currency_id,
		product_net, product_discount, product_tax, product_gross,
		total_net, total_discount, total_tax, total_gross,
		shipping_name, shipping_list_price, shipping_net, shipping_discount,
		shipping_tax, shipping_gross, shipping_tax_rate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	insertItemSQL = `INSERT INTO order_items (id, order_id, position, status,
		list_price, actual_price, base_price, net, discount, tax, gross, rrp,
		tax_rate, product_tax_rate, tax_strategy,
		product_id, product_name, product_type, unit_id, unit_revision,
		sku, barcode, options, brand, weight, stock_location, discount_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	insertItemTaxSQL = `INSERT INTO order_item_tax (item_id, rate_key, tax_type, tax_rate, tax_amount)
		VALUES ($1, $2, $3, $4, $5)`

	insertShippingTaxSQL = `INSERT INTO order_shipping_tax (order_id, rate_key, tax_type, tax_rate, tax_amount)
		VALUES ($1, $2, $3, $4, $5)`

	insertAddressSQL = `INSERT INTO order_addresses (id, order_id, type, name, lines, town, postcode, country_id, region_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertDiscountSQL = `INSERT INTO order_discounts (id, order_id, code, amount, percentage, name, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertPaymentSQL = `INSERT INTO order_payments (id, order_id, method, amount, change, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertRefundSQL = `INSERT INTO order_refunds (id, order_id, payment_id, method, amount, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertNoteSQL = `INSERT INTO order_notes (id, order_id, note, customer_notified, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	insertDispatchSQL = `INSERT INTO order_dispatches (id, order_id, method, code, cost, item_ids, shipped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertDocumentSQL = `INSERT INTO order_documents (id, order_id, type, url)
		VALUES ($1, $2, $3, $4)`

	getOrderSQL = `SELECT id, status, currency_id,
		product_net, product_discount, product_tax, product_gross,
		total_net, total_discount, total_tax, total_gross,
		shipping_name, shipping_list_price, shipping_net, shipping_discount,
		shipping_tax, shipping_gross, shipping_tax_rate, created_at, updated_at
		FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	getItemsSQL = `SELECT id, order_id, status,
		list_price, actual_price, base_price, net, discount, tax, gross, rrp,
		tax_rate, product_tax_rate, tax_strategy,
		product_id, product_name, product_type, unit_id, unit_revision,
		sku, barcode, options, brand, weight, stock_location, discount_code
		FROM order_items WHERE order_id = $1 ORDER BY position`

	getItemTaxSQL = `SELECT t.item_id, t.rate_key, t.tax_type, t.tax_rate, t.tax_amount
		FROM order_item_tax t JOIN order_items i ON i.id = t.item_id
		WHERE i.order_id = $1 ORDER BY t.item_id, t.rate_key`

	getShippingTaxSQL = `SELECT order_id, rate_key, tax_type, tax_rate, tax_amount
		FROM order_shipping_tax WHERE order_id = $1 ORDER BY rate_key`

	getAddressesSQL = `SELECT id, order_id, type, name, lines, town, postcode, country_id, region_id
		FROM order_addresses WHERE order_id = $1 ORDER BY type`

	getDiscountsSQL = `SELECT id, order_id, code, amount, percentage, name, description
		FROM order_discounts WHERE order_id = $1 ORDER BY code`

	getPaymentsSQL = `SELECT id, order_id, method, amount, change, reference, created_at
		FROM order_payments WHERE order_id = $1 ORDER BY created_at, id`

	getRefundsSQL = `SELECT id, order_id, payment_id, method, amount, reason, reference, created_at
		FROM order_refunds WHERE order_id = $1 ORDER BY created_at, id`

	getNotesSQL = `SELECT id, order_id, note, customer_notified, created_at
		FROM order_notes WHERE order_id = $1 ORDER BY created_at, id`

	getDispatchesSQL = `SELECT id, order_id, method, code, cost, item_ids, shipped_at
		FROM order_dispatches WHERE order_id = $1 ORDER BY id`

	getDocumentsSQL = `SELECT id, order_id, type, url
		FROM order_documents WHERE order_id = $1 ORDER BY id`

	updateOrderSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	// redeemDiscountSQL counts one use of a code unless its limit is spent.
	redeemDiscountSQL = `UPDATE discount_rules SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND active = TRUE AND (max_uses = 0 OR uses < max_uses)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Every
// entity collection lives in its own table.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a committed order and all of its entities in one
// transaction, redeeming one use of each code in redeem. A code whose usage
// limit is spent fails the whole create with discount.ErrUsageLimitReached.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, redeem ...string) error {
	b := &pgx.Batch{}
	s := o.Shipping
	b.Queue(insertOrderSQL,
		o.ID, o.Status, o.CurrencyID,
		o.ProductNet, o.ProductDiscount, o.ProductTax, o.ProductGross,
		o.TotalNet, o.TotalDiscount, o.TotalTax, o.TotalGross,
		s.Name, s.ListPrice, s.Net, s.Discount, s.Tax, s.Gross, s.TaxRate,
		o.CreatedAt, o.UpdatedAt,
	)
	for _, l := range s.TaxLines {
		b.Queue(insertShippingTaxSQL, o.ID, l.Key, l.Type, l.Rate, l.Amount)
	}

	for pos, it := range o.Items() {
		b.Queue(insertItemSQL,
			it.ID, o.ID, pos, it.Status,
			it.ListPrice, it.ActualPrice, it.BasePrice, it.Net, it.Discount, it.Tax, it.Gross, it.RRP,
			it.TaxRate, it.ProductTaxRate, it.TaxStrategy.String(),
			it.ProductID, it.ProductName, it.ProductType, it.UnitID, it.UnitRevision,
			it.SKU, it.Barcode, it.Options, it.Brand, it.Weight, it.StockLocation, it.DiscountCode,
		)
		for _, l := range it.TaxLines {
			b.Queue(insertItemTaxSQL, it.ID, l.Key, l.Type, l.Rate, l.Amount)
		}
	}
	for _, a := range o.Addresses() {
		lines := a.Lines
		if lines == nil {
			lines = []string{}
		}
		b.Queue(insertAddressSQL, a.ID, o.ID, string(a.Type), a.Name, lines, a.Town, a.Postcode, a.CountryID, a.RegionID)
	}
	for _, d := range o.Discounts() {
		b.Queue(insertDiscountSQL, d.ID, o.ID, d.Code, d.Amount, d.Percentage, d.Name, d.Description)
	}
	for _, p := range o.Payments() {
		b.Queue(insertPaymentSQL, p.ID, o.ID, p.Method, p.Amount, p.Change, p.Reference, p.CreatedAt)
	}
	for _, rf := range o.Refunds() {
		b.Queue(insertRefundSQL, rf.ID, o.ID, rf.PaymentID, rf.Method, rf.Amount, rf.Reason, rf.Reference, rf.CreatedAt)
	}
	for _, n := range o.Notes() {
		b.Queue(insertNoteSQL, n.ID, o.ID, n.Note, n.CustomerNotified, n.CreatedAt)
	}
	for _, d := range o.Dispatches() {
		itemIDs := d.ItemIDs
		if itemIDs == nil {
			itemIDs = []string{}
		}
		b.Queue(insertDispatchSQL, d.ID, o.ID, d.Method, d.Code, d.Cost, itemIDs, d.ShippedAt)
	}
	for _, d := range o.Documents() {
		b.Queue(insertDocumentSQL, d.ID, o.ID, d.Type, d.URL)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, code := range redeem {
			tag, err := tx.Exec(ctx, redeemDiscountSQL, code)
			if err != nil {
				return fmt.Errorf("redeeming discount %q: %w", code, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("redeeming discount %q: %w", code, discount.ErrUsageLimitReached)
			}
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get loads an order with all of its entities. Returns order.ErrNotFound
// when no order has id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var o *order.Order
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		o, err = load(ctx, tx, getOrderSQL, id)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

// Update loads order id under its row lock, passes it to fn and stores the
// change fn returns. Concurrent updates of one order run one at a time, so
// fn always checks against the latest payments, refunds and status. An
// error from fn is returned as is and nothing is written.
func (r *OrderRepository) Update(ctx context.Context, id string, fn order.UpdateFunc) (*order.Order, error) {
	var (
		o     *order.Order
		fnErr error
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		if o, err = load(ctx, tx, lockOrderSQL, id); err != nil {
			return err
		}

		c, err := fn(o)
		if err != nil {
			fnErr = err
			return err
		}
		if p := c.Payment; p != nil {
			if _, err := tx.Exec(ctx, insertPaymentSQL, p.ID, o.ID, p.Method, p.Amount, p.Change, p.Reference, p.CreatedAt); err != nil {
				return fmt.Errorf("adding payment: %w", err)
			}
		}
		if rf := c.Refund; rf != nil {
			if _, err := tx.Exec(ctx, insertRefundSQL,
				rf.ID, o.ID, rf.PaymentID, rf.Method, rf.Amount, rf.Reason, rf.Reference, rf.CreatedAt,
			); err != nil {
				return fmt.Errorf("adding refund: %w", err)
			}
		}
		_, err = tx.Exec(ctx, updateOrderSQL, o.ID, o.Status, o.UpdatedAt)
		return err
	})
	switch {
	case fnErr != nil:
		return nil, fnErr
	case errors.Is(err, pgx.ErrNoRows):
		return nil, order.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}
	return o, nil
}

// load reads order id with query, then every entity collection in one
// batch.
func load(ctx context.Context, tx pgx.Tx, query, id string) (*order.Order, error) {
	rows, err := tx.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		return nil, err
	}

	var e order.Entities
	b := &pgx.Batch{}
	queueCollect(b, getItemsSQL, id, scanItem, &e.Items)
	var itemTax []taxRow
	queueCollect(b, getItemTaxSQL, id, scanTaxRow, &itemTax)
	var shippingTax []taxRow
	queueCollect(b, getShippingTaxSQL, id, scanTaxRow, &shippingTax)
	queueCollect(b, getAddressesSQL, id, scanAddress, &e.Addresses)
	queueCollect(b, getDiscountsSQL, id, scanDiscount, &e.Discounts)
	queueCollect(b, getPaymentsSQL, id, scanPayment, &e.Payments)
	queueCollect(b, getRefundsSQL, id, scanRefund, &e.Refunds)
	queueCollect(b, getNotesSQL, id, scanNote, &e.Notes)
	queueCollect(b, getDispatchesSQL, id, scanDispatch, &e.Dispatches)
	queueCollect(b, getDocumentsSQL, id, scanDocument, &e.Documents)
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return nil, err
	}

	byItem := make(map[string][]tax.Line, len(e.Items))
	for _, t := range itemTax {
		byItem[t.ownerID] = append(byItem[t.ownerID], t.line)
	}
	for _, it := range e.Items {
		it.TaxLines = byItem[it.ID]
		it.Taxes = taxesOf(it.TaxLines)
	}
	for _, t := range shippingTax {
		o.Shipping.TaxLines = append(o.Shipping.TaxLines, t.line)
	}
	o.Shipping.Taxes = taxesOf(o.Shipping.TaxLines)
	return order.Restore(o, e), nil
}

// queueCollect queues sql and collects its rows into dst once the batch
// results are read.
func queueCollect[T any](b *pgx.Batch, sql, id string, scan pgx.RowToFunc[T], dst *[]T) {
	b.Queue(sql, id).Query(func(rows pgx.Rows) error {
		v, err := pgx.CollectRows(rows, scan)
		*dst = v
		return err
	})
}

func taxesOf(lines []tax.Line) map[string]decimal.Decimal {
	taxes := make(map[string]decimal.Decimal, len(lines))
	for _, l := range lines {
		taxes[l.Type] = taxes[l.Type].Add(l.Rate)
	}
	return taxes
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var o order.Order
	s := &o.Shipping
	err := row.Scan(
		&o.ID, &o.Status, &o.CurrencyID,
		&o.ProductNet, &o.ProductDiscount, &o.ProductTax, &o.ProductGross,
		&o.TotalNet, &o.TotalDiscount, &o.TotalTax, &o.TotalGross,
		&s.Name, &s.ListPrice, &s.Net, &s.Discount, &s.Tax, &s.Gross, &s.TaxRate,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return &o, err
}

func scanItem(row pgx.CollectableRow) (*order.Item, error) {
	var (
		it       order.Item
		strategy string
	)
	err := row.Scan(
		&it.ID, &it.OrderID, &it.Status,
		&it.ListPrice, &it.ActualPrice, &it.BasePrice, &it.Net, &it.Discount, &it.Tax, &it.Gross, &it.RRP,
		&it.TaxRate, &it.ProductTaxRate, &strategy,
		&it.ProductID, &it.ProductName, &it.ProductType, &it.UnitID, &it.UnitRevision,
		&it.SKU, &it.Barcode, &it.Options, &it.Brand, &it.Weight, &it.StockLocation, &it.DiscountCode,
	)
	if err != nil {
		return nil, err
	}
	if it.TaxStrategy, err = tax.ParseStrategy(strategy); err != nil {
		return nil, fmt.Errorf("item %s: %w", it.ID, err)
	}
	return &it, nil
}

type taxRow struct {
	ownerID string
	line    tax.Line
}

func scanTaxRow(row pgx.CollectableRow) (taxRow, error) {
	var t taxRow
	err := row.Scan(&t.ownerID, &t.line.Key, &t.line.Type, &t.line.Rate, &t.line.Amount)
	return t, err
}

func scanAddress(row pgx.CollectableRow) (*order.Address, error) {
	var (
		a   order.Address
		typ string
	)
	err := row.Scan(&a.ID, &a.OrderID, &typ, &a.Name, &a.Lines, &a.Town, &a.Postcode, &a.CountryID, &a.RegionID)
	a.Type = order.AddressType(typ)
	return &a, err
}

func scanDiscount(row pgx.CollectableRow) (*order.Discount, error) {
	var d order.Discount
	err := row.Scan(&d.ID, &d.OrderID, &d.Code, &d.Amount, &d.Percentage, &d.Name, &d.Description)
	return &d, err
}

func scanPayment(row pgx.CollectableRow) (*order.Payment, error) {
	var p order.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Change, &p.Reference, &p.CreatedAt)
	return &p, err
}

func scanRefund(row pgx.CollectableRow) (*order.Refund, error) {
	var rf order.Refund
	err := row.Scan(&rf.ID, &rf.OrderID, &rf.PaymentID, &rf.Method, &rf.Amount, &rf.Reason, &rf.Reference, &rf.CreatedAt)
	return &rf, err
}

func scanNote(row pgx.CollectableRow) (*order.Note, error) {
	var n order.Note
	err := row.Scan(&n.ID, &n.OrderID, &n.Note, &n.CustomerNotified, &n.CreatedAt)
	return &n, err
}

func scanDispatch(row pgx.CollectableRow) (*order.Dispatch, error) {
	var d order.Dispatch
	err := row.Scan(&d.ID, &d.OrderID, &d.Method, &d.Code, &d.Cost, &d.ItemIDs, &d.ShippedAt)
	return &d, err
}

func scanDocument(row pgx.CollectableRow) (*order.Document, error) {
	var d order.Document
	err := row.Scan(&d.ID, &d.OrderID, &d.Type, &d.URL)
	return &d, err
}
