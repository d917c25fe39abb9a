// Package mongostore stores orders as documents in MongoDB, one document per
// order with its line items embedded.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collection = "orders"

type Store struct{ C *mongo.Collection }

func Connect(ctx context.Context, uri, db string) (*mongo.Client, *Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return client, &Store{C: client.Database(db).Collection(collection)}, nil
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.C.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	return err
}

type itemDoc struct {
	Product string               `bson:"product"`
	Name    string               `bson:"name"`
	Image   string               `bson:"image,omitempty"`
	Qty     int                  `bson:"qty"`
	Price   primitive.Decimal128 `bson:"price"`
}

type addressDoc struct {
	Address    string `bson:"address"`
	City       string `bson:"city"`
	PostalCode string `bson:"postalCode"`
	Country    string `bson:"country"`
}

type paymentDoc struct {
	ID       string `bson:"id"`
	Amount   int64  `bson:"amount"`
	Currency string `bson:"currency"`
	Method   string `bson:"method,omitempty"`
}

type orderDoc struct {
	ID              string               `bson:"_id"`
	User            string               `bson:"user"`
	OrderItems      []itemDoc            `bson:"orderItems"`
	TotalPrice      primitive.Decimal128 `bson:"totalPrice"`
	ShippingAddress addressDoc           `bson:"shippingAddress"`
	IsPaid          bool                 `bson:"isPaid"`
	Status          string               `bson:"status"`
	PaidAt          *time.Time           `bson:"paidAt,omitempty"`
	PaymentInfo     *paymentDoc          `bson:"paymentInfo,omitempty"`
	CreatedAt       time.Time            `bson:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt"`
}

func (s *Store) Create(ctx context.Context, o *orders.Order) error {
	doc, err := toDoc(o)
	if err != nil {
		return err
	}
	_, err = s.C.InsertOne(ctx, doc)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*orders.Order, error) {
	var doc orderDoc
	if err := s.C.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, orders.ErrOrderNotFound
		}
		return nil, err
	}
	return fromDoc(doc)
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	return s.find(ctx, bson.M{"user": userID})
}

func (s *Store) ListAll(ctx context.Context) ([]orders.Order, error) {
	return s.find(ctx, bson.M{})
}

// MarkPaid relies on FindOneAndUpdate being atomic per document: the filter
// on isPaid=false lets exactly one concurrent caller win the transition.
func (s *Store) MarkPaid(ctx context.Context, id string, paidAt time.Time, info *orders.PaymentInfo) (*orders.Order, orders.MarkResult, error) {
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)

	set := bson.M{
		"isPaid":    true,
		"status":    string(orders.StatusPaid),
		"paidAt":    paidAt,
		"updatedAt": paidAt,
	}
	if info != nil {
		set["paymentInfo"] = toPaymentDoc(info)
	}
	var doc orderDoc
	err := s.C.FindOneAndUpdate(ctx, bson.M{"_id": id, "isPaid": false}, bson.M{"$set": set}, after).Decode(&doc)
	if err == nil {
		o, err := fromDoc(doc)
		return o, orders.MarkTransitioned, err
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, orders.MarkUnchanged, err
	}

	if info != nil {
		err = s.C.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "isPaid": true, "paymentInfo": nil},
			bson.M{"$set": bson.M{"paymentInfo": toPaymentDoc(info), "updatedAt": paidAt}},
			after,
		).Decode(&doc)
		if err == nil {
			o, err := fromDoc(doc)
			return o, orders.MarkAttached, err
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, orders.MarkUnchanged, err
		}
	}

	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, orders.MarkUnchanged, err
	}
	return o, orders.MarkUnchanged, nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]orders.Order, error) {
	cur, err := s.C.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(docs))
	for _, d := range docs {
		o, err := fromDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

func toDoc(o *orders.Order) (orderDoc, error) {
	total, err := primitive.ParseDecimal128(o.TotalPrice.String())
	if err != nil {
		return orderDoc{}, fmt.Errorf("total price: %w", err)
	}
	items := make([]itemDoc, 0, len(o.Items))
	for _, it := range o.Items {
		price, err := primitive.ParseDecimal128(it.Price.String())
		if err != nil {
			return orderDoc{}, fmt.Errorf("price of %s: %w", it.ProductID, err)
		}
		items = append(items, itemDoc{Product: it.ProductID, Name: it.Name, Image: it.Image, Qty: it.Qty, Price: price})
	}
	a := o.ShippingAddress
	return orderDoc{
		ID:              o.ID,
		User:            o.UserID,
		OrderItems:      items,
		TotalPrice:      total,
		ShippingAddress: addressDoc{Address: a.Address, City: a.City, PostalCode: a.PostalCode, Country: a.Country},
		IsPaid:          o.IsPaid,
		Status:          string(o.Status),
		PaidAt:          o.PaidAt,
		PaymentInfo:     toPaymentDoc(o.PaymentInfo),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

func fromDoc(d orderDoc) (*orders.Order, error) {
	total, err := decimal.NewFromString(d.TotalPrice.String())
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", d.ID, err)
	}
	items := make([]orders.Item, 0, len(d.OrderItems))
	for _, it := range d.OrderItems {
		price, err := decimal.NewFromString(it.Price.String())
		if err != nil {
			return nil, fmt.Errorf("order %s price: %w", d.ID, err)
		}
		items = append(items, orders.Item{ProductID: it.Product, Name: it.Name, Image: it.Image, Qty: it.Qty, Price: price})
	}
	o := &orders.Order{
		ID:              d.ID,
		UserID:          d.User,
		Items:           items,
		TotalPrice:      total,
		ShippingAddress: orders.ShippingAddress(d.ShippingAddress),
		IsPaid:          d.IsPaid,
		Status:          orders.Status(d.Status),
		PaidAt:          d.PaidAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if p := d.PaymentInfo; p != nil {
		o.PaymentInfo = &orders.PaymentInfo{ID: p.ID, Amount: p.Amount, Currency: p.Currency, Method: p.Method}
	}
	return o, nil
}

func toPaymentDoc(p *orders.PaymentInfo) *paymentDoc {
	if p == nil {
		return nil
	}
	return &paymentDoc{ID: p.ID, Amount: p.Amount, Currency: p.Currency, Method: p.Method}
}
