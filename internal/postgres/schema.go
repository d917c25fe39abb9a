package postgres

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	total_price      NUMERIC NOT NULL,
	ship_address     TEXT NOT NULL DEFAULT '',
	ship_city        TEXT NOT NULL DEFAULT '',
	ship_postal_code TEXT NOT NULL DEFAULT '',
	ship_country     TEXT NOT NULL DEFAULT '',
	is_paid          BOOLEAN NOT NULL DEFAULT false,
	status           TEXT NOT NULL DEFAULT 'Pending',
	paid_at          TIMESTAMPTZ,
	payment_id       TEXT,
	payment_amount   BIGINT,
	payment_currency TEXT,
	payment_method   TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (is_paid = (status = 'Paid'))
);
CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_created_idx ON orders (created_at DESC);

CREATE TABLE IF NOT EXISTS order_items (
	order_id   TEXT NOT NULL REFERENCES orders (id),
	position   INT NOT NULL,
	product_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	image      TEXT NOT NULL DEFAULT '',
	qty        INT NOT NULL CHECK (qty > 0),
	price      NUMERIC NOT NULL,
	PRIMARY KEY (order_id, position)
);

CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	stock      INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stock_movements (
	order_id   TEXT NOT NULL,
	product_id TEXT NOT NULL,
	qty        INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (order_id, product_id)
);
`
